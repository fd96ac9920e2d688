// Package grading scores free-text answers against reference answers and maps the
// similarity onto a fixed rubric, one item at a time or over whole batches.
package grading

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/questionbank"
	"github.com/noah-isme/gema-grader/pkg/embedding"
)

// Store is the read-only question bank the engine grades against.
type Store interface {
	VectorStore
	Resolve(ref questionbank.Ref) (uint, bool)
	AnswerTextFor(id uint) (string, error)
	NormalizedTextFor(id uint) (string, error)
}

// Normalizer turns raw answer text into the form that gets embedded.
type Normalizer interface {
	Normalize(raw string) (string, error)
}

// Result is the outcome of grading a single answer.
type Result struct {
	QuestionID      *uint
	Question        string
	CleanedAnswer   string
	SimilarityScore float64
	Mark            int
	ReferenceAnswer string
	Resolved        bool
}

// Engine grades one answer: resolve, normalize, score, mark.
type Engine struct {
	store      Store
	normalizer Normalizer
	scorer     *Scorer
	tracer     trace.Tracer
}

// NewEngine wires an engine over a question bank snapshot.
func NewEngine(store Store, normalizer Normalizer, embedder embedding.Embedder) *Engine {
	return &Engine{
		store:      store,
		normalizer: normalizer,
		scorer:     NewScorer(embedder, store),
		tracer:     otel.Tracer("github.com/noah-isme/gema-grader/internal/grading"),
	}
}

// GradeOne grades rawAnswer against the question ref points at. An unresolved question is
// a normal result carrying the QuestionNotFound sentinel; errors are reserved for
// preprocessing, embedding and store consistency faults.
func (e *Engine) GradeOne(ctx context.Context, ref questionbank.Ref, rawAnswer string) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "grading.grade_one")
	defer span.End()

	result := Result{Question: ref.Text}

	id, ok := e.store.Resolve(ref)
	if !ok {
		span.SetAttributes(attribute.Bool("grading.resolved", false))
		result.ReferenceAnswer = QuestionNotFound
		return result, nil
	}
	span.SetAttributes(attribute.Bool("grading.resolved", true), attribute.Int64("grading.question_id", int64(id)))

	fail := func(err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	reference, err := e.store.AnswerTextFor(id)
	if err != nil {
		return fail(fmt.Errorf("%w: answer for question %d: %w", ErrStoreInconsistent, id, err))
	}
	if result.Question == "" {
		if text, err := e.store.NormalizedTextFor(id); err == nil {
			result.Question = text
		}
	}

	cleaned, err := e.normalizer.Normalize(rawAnswer)
	if err != nil {
		return fail(fmt.Errorf("preprocess answer: %w", err))
	}

	score, err := e.scorer.Score(ctx, cleaned, id)
	if err != nil {
		if errors.Is(err, ErrQuestionNotFound) {
			err = fmt.Errorf("%w: embedding for question %d: %w", ErrStoreInconsistent, id, err)
		}
		return fail(err)
	}

	questionID := id
	result.QuestionID = &questionID
	result.CleanedAnswer = cleaned
	result.SimilarityScore = score
	result.Mark = Mark(score)
	result.ReferenceAnswer = reference
	result.Resolved = true

	observability.GradedItems().WithLabelValues(Band(score)).Inc()
	observability.SimilarityScores().Observe(score)
	span.SetAttributes(attribute.Float64("grading.similarity", score), attribute.Int("grading.mark", result.Mark))

	return result, nil
}
