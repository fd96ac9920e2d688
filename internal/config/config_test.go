package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GRADER_DATABASE_URL", "postgres://grader@localhost/grader")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, "postgres", cfg.DatabaseDriver)
	require.Equal(t, "postgres://grader@localhost/grader", cfg.DatabaseURL)
	require.Equal(t, "openai", cfg.EmbeddingProvider)
	require.Equal(t, 30*time.Second, cfg.EmbeddingTimeout)
	require.Equal(t, 1, cfg.BatchConcurrency)
	require.Equal(t, "grading.run.completed", cfg.NATSSubject)
	require.Equal(t, 30, cfg.BatchRateLimit)
	require.Equal(t, time.Minute, cfg.BatchRateWindow)
	require.Equal(t, "*", cfg.CORSAllowOrigins)
	require.Error(t, cfg.ValidateServer())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GRADER_APP_PORT", ":9090")
	t.Setenv("GRADER_EMBEDDING_PROVIDER", "HASHING")
	t.Setenv("GRADER_EMBEDDING_DIMENSIONS", "384")
	t.Setenv("GRADER_BATCH_CONCURRENCY", "8")
	t.Setenv("GRADER_BATCH_ITEM_TIMEOUT", "2s")
	t.Setenv("GRADER_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddress())
	require.Equal(t, "hashing", cfg.EmbeddingProvider)
	require.Equal(t, 384, cfg.EmbeddingDimensions)
	require.Equal(t, 8, cfg.BatchConcurrency)
	require.Equal(t, 2*time.Second, cfg.ItemTimeout)
	require.NoError(t, cfg.ValidateServer())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("GRADER_EMBEDDING_PROVIDER", "word2vec")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("GRADER_EMBEDDING_PROVIDER", "hashing")
	t.Setenv("GRADER_STATS_CACHE_TTL", "soon")
	_, err = Load()
	require.Error(t, err)
}
