package grading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/questionbank"
)

// Grader grades a single answer. *Engine is the production implementation.
type Grader interface {
	GradeOne(ctx context.Context, ref questionbank.Ref, rawAnswer string) (Result, error)
}

// Student identifies who wrote an answer. Both fields are optional and only carried
// through to the record.
type Student struct {
	ID   string
	Name string
}

// Pair is one batch input row. QuestionPresent and AnswerPresent distinguish an empty
// value from a row that has no such field at all. Fault marks a row whose cells could
// not be interpreted; it is reported as an error record.
type Pair struct {
	Ref             questionbank.Ref
	Answer          string
	Student         Student
	QuestionPresent bool
	AnswerPresent   bool
	Fault           error
}

// NewPair builds a pair with both fields present.
func NewPair(ref questionbank.Ref, answer string) Pair {
	return Pair{Ref: ref, Answer: answer, QuestionPresent: true, AnswerPresent: true}
}

// Record is one batch output row, index-aligned with the input.
type Record struct {
	Result
	Position      int
	StudentAnswer string
	Student       Student
	Error         string
}

// Failed reports whether the record is an error placeholder.
func (r Record) Failed() bool {
	return r.Error != ""
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithConcurrency grades up to n items at once. Values below 1 mean sequential.
func WithConcurrency(n int) Option {
	return func(ev *Evaluator) {
		if n < 1 {
			n = 1
		}
		ev.concurrency = n
	}
}

// WithItemTimeout bounds the time spent on a single item.
func WithItemTimeout(d time.Duration) Option {
	return func(ev *Evaluator) {
		ev.itemTimeout = d
	}
}

// WithLogger sets the logger used for failed items.
func WithLogger(logger zerolog.Logger) Option {
	return func(ev *Evaluator) {
		ev.logger = logger.With().Str("component", "batch_evaluator").Logger()
	}
}

// Evaluator drives a Grader over a batch and contains per-item failures.
type Evaluator struct {
	grader      Grader
	concurrency int
	itemTimeout time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(grader Grader, opts ...Option) *Evaluator {
	ev := &Evaluator{
		grader:      grader,
		concurrency: 1,
		logger:      zerolog.Nop(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grader/internal/grading"),
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// ValidatePairs checks the batch schema: every row needs a question field and an answer
// field. Empty values pass; an empty question resolves to not-found like any other miss.
func ValidatePairs(pairs []Pair) error {
	var issues []FieldIssue
	for i, pair := range pairs {
		if !pair.QuestionPresent {
			issues = append(issues, FieldIssue{Position: i, Field: "question"})
		}
		if !pair.AnswerPresent {
			issues = append(issues, FieldIssue{Position: i, Field: "student_answer"})
		}
	}
	if len(issues) > 0 {
		return &InputValidationError{Issues: issues}
	}
	return nil
}

// Evaluate grades every pair and returns exactly one record per pair, in input order.
// Item faults become error records. The run itself fails only on schema problems, an
// embedding dimension mismatch, or cancellation of ctx.
func (ev *Evaluator) Evaluate(ctx context.Context, pairs []Pair) ([]Record, error) {
	if err := ValidatePairs(pairs); err != nil {
		return nil, err
	}

	ctx, span := ev.tracer.Start(ctx, "grading.evaluate", trace.WithAttributes(
		attribute.Int("grading.items", len(pairs)),
		attribute.Int("grading.concurrency", ev.concurrency),
	))
	defer span.End()

	records := make([]Record, len(pairs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(ev.concurrency)

	for i := range pairs {
		group.Go(func() error {
			record, err := ev.evaluateItem(groupCtx, i, pairs[i])
			if err != nil {
				return err
			}
			records[i] = record
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("evaluation cancelled: %w", err)
	}

	return records, nil
}

func (ev *Evaluator) evaluateItem(ctx context.Context, position int, pair Pair) (record Record, fatal error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			record = ev.errorRecord(position, pair, "panic", fmt.Errorf("panic while grading: %v", recovered))
			fatal = nil
		}
	}()

	if pair.Fault != nil {
		return ev.errorRecord(position, pair, "input", pair.Fault), nil
	}

	itemCtx := ctx
	if ev.itemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, ev.itemTimeout)
		defer cancel()
	}

	result, err := ev.grader.GradeOne(itemCtx, pair.Ref, pair.Answer)
	if err != nil {
		switch {
		case errors.Is(err, ErrDimensionMismatch):
			return Record{}, fmt.Errorf("row %d: %w", position+1, err)
		case errors.Is(err, context.DeadlineExceeded):
			return ev.errorRecord(position, pair, "timeout", err), nil
		case errors.Is(err, ErrStoreInconsistent):
			return ev.errorRecord(position, pair, "store", err), nil
		default:
			return ev.errorRecord(position, pair, "error", err), nil
		}
	}

	if result.Question == "" {
		result.Question = pair.Ref.Text
	}
	if result.QuestionID == nil && pair.Ref.ID != nil {
		id := *pair.Ref.ID
		result.QuestionID = &id
	}
	return Record{Result: result, Position: position, StudentAnswer: pair.Answer, Student: pair.Student}, nil
}

func (ev *Evaluator) errorRecord(position int, pair Pair, reason string, err error) Record {
	observability.ItemFailures().WithLabelValues(reason).Inc()
	ev.logger.Warn().
		Err(err).
		Int("position", position).
		Str("question", pair.Ref.String()).
		Str("reason", reason).
		Msg("grading item failed")

	var questionID *uint
	if pair.Ref.ID != nil {
		id := *pair.Ref.ID
		questionID = &id
	}

	return Record{
		Result: Result{
			QuestionID:      questionID,
			Question:        pair.Ref.Text,
			CleanedAnswer:   ErrorPlaceholder,
			SimilarityScore: 0,
			Mark:            0,
			ReferenceAnswer: ErrorPlaceholder,
		},
		Position:      position,
		StudentAnswer: pair.Answer,
		Student:       pair.Student,
		Error:         err.Error(),
	}
}
