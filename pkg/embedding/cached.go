package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/highwayhash"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var cacheKeySeed = []byte("gema-grader-embedding-cache-key!")

// Cached memoizes another Embedder in Redis. Cache failures are logged and bypassed; they
// never fail an embedding request on their own.
type Cached struct {
	next   Embedder
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCached wraps next with a Redis cache. A nil client disables caching.
func NewCached(next Embedder, client *redis.Client, prefix string, ttl time.Duration, logger zerolog.Logger) *Cached {
	if prefix == "" {
		prefix = "grader:embedding"
	}
	return &Cached{
		next:   next,
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "embedding_cache").Logger(),
	}
}

// Model returns the wrapped model name.
func (c *Cached) Model() string {
	return c.next.Model()
}

// Dimension returns the wrapped embedder's configured dimension.
func (c *Cached) Dimension() int {
	return DimensionOf(c.next)
}

// Embed returns the cached vector for text or computes and stores it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch serves hits from the cache and embeds the misses in a single call.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.redis == nil {
		return c.next.EmbedBatch(ctx, texts)
	}

	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []int

	for i, text := range texts {
		keys[i] = c.key(text)
		cached, err := c.redis.Get(ctx, keys[i]).Bytes()
		if err != nil {
			if err != redis.Nil {
				c.logger.Warn().Err(err).Msg("failed to read embedding cache")
			}
			missing = append(missing, i)
			continue
		}
		var vector []float32
		if err := json.Unmarshal(cached, &vector); err != nil {
			c.logger.Warn().Err(err).Str("key", keys[i]).Msg("discarding corrupt cached embedding")
			missing = append(missing, i)
			continue
		}
		out[i] = vector
	}

	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	computed, err := c.next.EmbedBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(computed) != len(pending) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrUnexpectedResponse, len(computed), len(pending))
	}

	for j, i := range missing {
		out[i] = computed[j]
		payload, err := json.Marshal(computed[j])
		if err != nil {
			continue
		}
		if err := c.redis.Set(ctx, keys[i], payload, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to store embedding cache")
		}
	}

	return out, nil
}

// key scopes entries by model and output dimension; the same model asked for a different
// dimension must not be served stale vectors.
func (c *Cached) key(text string) string {
	model := c.next.Model()
	dim := DimensionOf(c.next)
	sum := highwayhash.Sum64([]byte(fmt.Sprintf("%s\x00%d\x00%s", model, dim, text)), cacheKeySeed)
	return fmt.Sprintf("%s:%s:%d:%016x", c.prefix, model, dim, sum)
}
