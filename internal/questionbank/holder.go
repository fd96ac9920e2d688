package questionbank

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// Source lists every persisted question.
type Source interface {
	ListAll(ctx context.Context) ([]models.Question, error)
}

// Load reads all questions from src and builds an index.
func Load(ctx context.Context, src Source) (*Index, error) {
	questions, err := src.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return FromModels(questions)
}

// Holder publishes the current index. Readers always see a complete snapshot; Reload swaps
// the snapshot in one step and never mutates a published index.
type Holder struct {
	current atomic.Pointer[Index]
	source  Source
	logger  zerolog.Logger
}

// NewHolder constructs a holder backed by src. The holder starts with an empty index.
func NewHolder(src Source, logger zerolog.Logger) *Holder {
	h := &Holder{
		source: src,
		logger: logger.With().Str("component", "question_bank").Logger(),
	}
	empty, _ := Build(nil)
	h.current.Store(empty)
	return h
}

// Current returns the published snapshot.
func (h *Holder) Current() *Index {
	return h.current.Load()
}

// Store publishes idx.
func (h *Holder) Store(idx *Index) {
	if idx == nil {
		return
	}
	h.current.Store(idx)
	observability.QuestionBankSize().Set(float64(idx.Len()))
	for _, dup := range idx.Duplicates() {
		h.logger.Warn().
			Uint("question_id", dup.ID).
			Uint("kept_id", dup.KeptID).
			Str("text", dup.Text).
			Msg("duplicate question text, lookups by text resolve to the kept id")
	}
}

// Reload rebuilds the index from the source and publishes it. On failure the previous
// snapshot stays in place.
func (h *Holder) Reload(ctx context.Context) (*Index, error) {
	if h.source == nil {
		return nil, fmt.Errorf("question bank source not configured")
	}
	idx, err := Load(ctx, h.source)
	if err != nil {
		h.logger.Error().Err(err).Msg("question bank reload failed")
		return nil, err
	}
	h.Store(idx)
	h.logger.Info().Int("questions", idx.Len()).Int("dimension", idx.Dimension()).Msg("question bank loaded")
	return idx, nil
}
