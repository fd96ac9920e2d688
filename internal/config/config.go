package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grader API and CLI.
type Config struct {
	AppName   string
	AppEnv    string
	AppPort   string
	LogLevel  string
	JWTSecret string

	DatabaseDriver string
	DatabaseURL    string
	RedisURL       string

	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingBaseURL    string
	EmbeddingDimensions int
	EmbeddingTimeout    time.Duration
	EmbeddingCacheTTL   time.Duration
	OpenAIAPIKey        string

	BatchConcurrency int
	ItemTimeout      time.Duration
	MaxBatchItems    int
	UploadMaxBytes   int64
	StatsCacheTTL    time.Duration
	BatchRateLimit   int
	BatchRateWindow  time.Duration

	CORSAllowOrigins string

	NATSURL     string
	NATSSubject string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// ValidateServer checks the settings only the HTTP server needs.
func (c Config) ValidateServer() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret must be provided")
	}
	return nil
}

// Load reads configuration values from environment variables and optional .env file.
// Variables use the GRADER_ prefix, e.g. GRADER_DATABASE_URL.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.cache_ttl", "24h")
	v.SetDefault("batch.concurrency", 1)
	v.SetDefault("batch.item_timeout", "0s")
	v.SetDefault("batch.max_items", 5000)
	v.SetDefault("upload.max_bytes", 10<<20)
	v.SetDefault("stats.cache_ttl", "1m")
	v.SetDefault("batch.rate_limit", 30)
	v.SetDefault("batch.rate_window", "1m")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("nats.subject", "grading.run.completed")

	durations := map[string]time.Duration{}
	for _, key := range []string{"embedding.timeout", "embedding.cache_ttl", "batch.item_timeout", "stats.cache_ttl", "batch.rate_window"} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = d
	}

	cfg := Config{
		AppName:   v.GetString("app.name"),
		AppEnv:    v.GetString("app.env"),
		AppPort:   v.GetString("app.port"),
		LogLevel:  strings.ToLower(v.GetString("log.level")),
		JWTSecret: v.GetString("jwt.secret"),

		DatabaseDriver: strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:    v.GetString("database.url"),
		RedisURL:       v.GetString("redis.url"),

		EmbeddingProvider:   strings.ToLower(v.GetString("embedding.provider")),
		EmbeddingModel:      v.GetString("embedding.model"),
		EmbeddingBaseURL:    v.GetString("embedding.base_url"),
		EmbeddingDimensions: v.GetInt("embedding.dimensions"),
		EmbeddingTimeout:    durations["embedding.timeout"],
		EmbeddingCacheTTL:   durations["embedding.cache_ttl"],
		OpenAIAPIKey:        v.GetString("openai_api_key"),

		BatchConcurrency: v.GetInt("batch.concurrency"),
		ItemTimeout:      durations["batch.item_timeout"],
		MaxBatchItems:    v.GetInt("batch.max_items"),
		UploadMaxBytes:   v.GetInt64("upload.max_bytes"),
		StatsCacheTTL:    durations["stats.cache_ttl"],
		BatchRateLimit:   v.GetInt("batch.rate_limit"),
		BatchRateWindow:  durations["batch.rate_window"],

		CORSAllowOrigins: v.GetString("cors.allow_origins"),

		NATSURL:     v.GetString("nats.url"),
		NATSSubject: v.GetString("nats.subject"),
	}

	switch cfg.EmbeddingProvider {
	case "openai", "hashing":
	default:
		return Config{}, fmt.Errorf("unsupported embedding provider %q", cfg.EmbeddingProvider)
	}

	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 1
	}
	if cfg.MaxBatchItems <= 0 {
		cfg.MaxBatchItems = 5000
	}

	return cfg, nil
}
