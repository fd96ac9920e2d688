// Package bootstrap assembles the grader runtime shared by the API server and the CLI.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/preprocess"
	"github.com/noah-isme/gema-grader/internal/questionbank"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/embedding"
)

const embeddingCachePrefix = "grader:embedding"

// Runtime holds the connections and services of a running grader.
type Runtime struct {
	Config    config.Config
	Logger    zerolog.Logger
	DB        *gorm.DB
	Redis     *redis.Client
	NATS      *nats.Conn
	Embedder  embedding.Embedder
	Bank      *questionbank.Holder
	Validate  *validator.Validate
	Grading   service.GradingService
	Questions service.QuestionBankService
}

// NewLogger builds the process logger at the configured level.
func NewLogger(cfg config.Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()
}

// NewEmbedder selects the embedding provider. Vectors are cached in redis when a client is
// given.
func NewEmbedder(cfg config.Config, cache *redis.Client, logger zerolog.Logger) (embedding.Embedder, error) {
	var embedder embedding.Embedder
	switch cfg.EmbeddingProvider {
	case "hashing":
		embedder = embedding.NewHashing(cfg.EmbeddingDimensions)
	case "openai", "":
		client, err := embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.EmbeddingBaseURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
			Timeout:    cfg.EmbeddingTimeout,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		embedder = client
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.EmbeddingProvider)
	}

	if cache != nil {
		embedder = embedding.NewCached(embedder, cache, embeddingCachePrefix, cfg.EmbeddingCacheTTL, logger)
	}
	return embedder, nil
}

// New connects to the configured backends, loads the question bank and builds the services.
// Redis and NATS are optional.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	rt.DB = db
	if err := database.Migrate(db); err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.RedisURL != "" {
		client, err := database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Redis = client
	}

	var events service.EventPublisher
	if cfg.NATSURL != "" {
		conn, err := nats.Connect(cfg.NATSURL,
			nats.Name(cfg.AppName),
			nats.Timeout(5*time.Second),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		rt.NATS = conn
		events = conn
	}

	rt.Embedder, err = NewEmbedder(cfg, rt.Redis, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	questionRepo := repository.NewQuestionRepository(db)
	rt.Bank = questionbank.NewHolder(questionRepo, logger)
	idx, err := rt.Bank.Reload(ctx)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("load question bank: %w", err)
	}
	if err := grading.VerifyDimension(ctx, rt.Embedder, idx.Dimension()); err != nil {
		rt.Close()
		return nil, fmt.Errorf("question bank was indexed with a different embedding model: %w", err)
	}

	normalizer := preprocess.New()
	rt.Questions, err = service.NewQuestionBankService(questionRepo, rt.Bank, normalizer, rt.Embedder, rt.Validate, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Grading = service.NewGradingService(
		rt.Bank,
		normalizer,
		rt.Embedder,
		repository.NewGradingRunRepository(db),
		rt.Redis,
		events,
		rt.Validate,
		service.GradingOptions{
			Concurrency:    cfg.BatchConcurrency,
			ItemTimeout:    cfg.ItemTimeout,
			MaxItems:       cfg.MaxBatchItems,
			MaxUploadBytes: cfg.UploadMaxBytes,
			StatsCacheTTL:  cfg.StatsCacheTTL,
			EventSubject:   cfg.NATSSubject,
		},
		logger,
	)

	logger.Info().
		Int("question_bank_size", idx.Len()).
		Int("embedding_dimension", idx.Dimension()).
		Str("embedding_model", rt.Embedder.Model()).
		Bool("redis", rt.Redis != nil).
		Bool("nats", rt.NATS != nil).
		Msg("grader runtime ready")

	return rt, nil
}

// Close releases every open connection.
func (r *Runtime) Close() {
	if r.NATS != nil {
		if err := r.NATS.Drain(); err != nil {
			r.Logger.Warn().Err(err).Msg("failed to drain nats connection")
		}
	}
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			r.Logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if r.DB != nil {
		if sqlDB, err := r.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				r.Logger.Warn().Err(err).Msg("failed to close database")
			}
		}
	}
}
