package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	embedDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grader",
		Subsystem: "embedding",
		Name:      "request_duration_seconds",
		Help:      "Duration of embedding requests",
	}, []string{"model"})

	embedFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grader",
		Subsystem: "embedding",
		Name:      "failures_total",
		Help:      "Number of failed embedding requests",
	}, []string{"model"})
)

const defaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures the OpenAI embedding client. BaseURL may point at any
// OpenAI-compatible server, such as a local Ollama instance at http://localhost:11434/v1.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// OpenAI implements Embedder against the embeddings endpoint.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAI builds the embedder. An API key is required unless a custom base URL is set.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/embedding/openai"),
		logger: logger.With().Str("component", "openai_embedder").Logger(),
	}, nil
}

// Model returns the configured model name.
func (e *OpenAI) Model() string {
	return e.cfg.Model
}

// Dimension returns the requested output size, 0 when the model default is used.
func (e *OpenAI) Dimension() int {
	return e.cfg.Dimensions
}

// Embed embeds a single text.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request and returns vectors in input order.
func (e *OpenAI) EmbedBatch(parent context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := e.tracer.Start(parent, "openai.embeddings", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
		attribute.Int("embedding.inputs", len(texts)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	request := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.cfg.Model),
		Dimensions: e.cfg.Dimensions,
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, request)
	embedDuration.WithLabelValues(e.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		embedFailures.WithLabelValues(e.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		err := fmt.Errorf("%w: got %d vectors for %d inputs", ErrUnexpectedResponse, len(resp.Data), len(texts))
		embedFailures.WithLabelValues(e.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) || out[item.Index] != nil {
			err := fmt.Errorf("%w: bad index %d", ErrUnexpectedResponse, item.Index)
			embedFailures.WithLabelValues(e.cfg.Model).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out[item.Index] = item.Embedding
	}

	e.logger.Debug().Int("inputs", len(texts)).Int("tokens", resp.Usage.TotalTokens).Msg("embeddings created")
	return out, nil
}
