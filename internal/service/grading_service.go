package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/batchio"
	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/questionbank"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/pkg/embedding"
)

var (
	// ErrQuestionBankEmpty indicates no question index has been loaded yet.
	ErrQuestionBankEmpty = errors.New("question bank is empty")
	// ErrGradingRunNotFound indicates the run was not located.
	ErrGradingRunNotFound = errors.New("grading run not found")
	// ErrBatchTooLarge indicates the batch exceeds the configured item limit.
	ErrBatchTooLarge = errors.New("batch exceeds maximum number of items")
	// ErrUploadTooLarge indicates the uploaded file exceeds the configured size.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
)

const statsCacheKey = "grader:stats"

// EventPublisher publishes run events. *nats.Conn satisfies it.
type EventPublisher interface {
	Publish(subject string, data []byte) error
}

// RunCompletedEvent is published after a run has been persisted.
type RunCompletedEvent struct {
	RunID        uint      `json:"run_id"`
	Label        string    `json:"label"`
	Subject      string    `json:"subject,omitempty"`
	Source       string    `json:"source"`
	TotalItems   int       `json:"total_items"`
	FailedItems  int       `json:"failed_items"`
	AverageScore float64   `json:"average_score"`
	AverageMark  float64   `json:"average_mark"`
	CompletedAt  time.Time `json:"completed_at"`
}

// RunInfo describes where a batch came from. Label is generated when empty.
type RunInfo struct {
	Source  string
	Label   string
	Subject string
}

// GradingOptions tunes batch evaluation.
type GradingOptions struct {
	Concurrency    int
	ItemTimeout    time.Duration
	MaxItems       int
	MaxUploadBytes int64
	StatsCacheTTL  time.Duration
	EventSubject   string
}

// GradingService grades answers and manages persisted grading runs.
type GradingService interface {
	Grade(ctx context.Context, req dto.GradeRequest) (dto.GradeResultResponse, error)
	GradeBatch(ctx context.Context, req dto.BatchGradeRequest) (dto.GradingRunResponse, error)
	GradeUpload(ctx context.Context, upload dto.BatchUpload) (dto.GradingRunResponse, error)
	Evaluate(ctx context.Context, info RunInfo, pairs []grading.Pair) (models.GradingRun, error)
	ListRuns(ctx context.Context, req dto.GradingRunListRequest) (dto.GradingRunListResponse, error)
	GetRun(ctx context.Context, id uint) (dto.GradingRunResponse, error)
	ExportRun(ctx context.Context, id uint, format batchio.Format) ([]byte, error)
	Stats(ctx context.Context) (dto.GradingStatsResponse, error)
	SearchStudents(ctx context.Context, req dto.StudentSearchRequest) ([]dto.StudentResultResponse, error)
}

type gradingService struct {
	bank       *questionbank.Holder
	normalizer grading.Normalizer
	embedder   embedding.Embedder
	runs       repository.GradingRunRepository
	cache      *redis.Client
	events     EventPublisher
	validator  *validator.Validate
	options    GradingOptions
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewGradingService constructs the grading service. cache and events are optional.
func NewGradingService(
	bank *questionbank.Holder,
	normalizer grading.Normalizer,
	embedder embedding.Embedder,
	runs repository.GradingRunRepository,
	cache *redis.Client,
	events EventPublisher,
	validate *validator.Validate,
	options GradingOptions,
	logger zerolog.Logger,
) GradingService {
	if options.Concurrency <= 0 {
		options.Concurrency = 1
	}
	if options.MaxItems <= 0 {
		options.MaxItems = 5000
	}
	if options.MaxUploadBytes <= 0 {
		options.MaxUploadBytes = 10 << 20
	}
	if options.StatsCacheTTL <= 0 {
		options.StatsCacheTTL = time.Minute
	}

	return &gradingService{
		bank:       bank,
		normalizer: normalizer,
		embedder:   embedder,
		runs:       runs,
		cache:      cache,
		events:     events,
		validator:  validate,
		options:    options,
		logger:     logger.With().Str("component", "grading_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-grader/internal/service/grading"),
		now:        time.Now,
	}
}

// engine grades against the snapshot current at call time; a concurrent reload does not
// affect it.
func (s *gradingService) engine() (*grading.Engine, error) {
	idx := s.bank.Current()
	if idx.Len() == 0 {
		return nil, ErrQuestionBankEmpty
	}
	return grading.NewEngine(idx, s.normalizer, s.embedder), nil
}

func (s *gradingService) Grade(ctx context.Context, req dto.GradeRequest) (dto.GradeResultResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.grade")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.GradeResultResponse{}, err
	}

	engine, err := s.engine()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "question_bank_empty")
		return dto.GradeResultResponse{}, err
	}

	result, err := engine.GradeOne(ctx, questionbank.Ref{ID: req.QuestionID, Text: req.Question}, *req.StudentAnswer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading_failed")
		return dto.GradeResultResponse{}, fmt.Errorf("grade answer: %w", err)
	}

	span.SetAttributes(attribute.Bool("grading.resolved", result.Resolved), attribute.Int("grading.mark", result.Mark))
	return dto.NewGradeResultResponse(result), nil
}

func (s *gradingService) GradeBatch(ctx context.Context, req dto.BatchGradeRequest) (dto.GradingRunResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GradingRunResponse{}, err
	}

	pairs := make([]grading.Pair, len(req.Items))
	for i, item := range req.Items {
		pairs[i] = grading.Pair{
			Ref:             questionbank.Ref{ID: item.QuestionID},
			Student:         grading.Student{ID: item.StudentID, Name: item.StudentName},
			QuestionPresent: item.QuestionID != nil || item.Question != nil,
		}
		if item.Question != nil {
			pairs[i].Ref.Text = *item.Question
		}
		if item.StudentAnswer != nil {
			pairs[i].Answer = *item.StudentAnswer
			pairs[i].AnswerPresent = true
		}
	}

	run, err := s.Evaluate(ctx, RunInfo{Source: models.GradingRunSourceAPI, Label: req.Label, Subject: req.Subject}, pairs)
	if err != nil {
		return dto.GradingRunResponse{}, err
	}
	return dto.NewGradingRunResponse(run), nil
}

func (s *gradingService) GradeUpload(ctx context.Context, upload dto.BatchUpload) (dto.GradingRunResponse, error) {
	if int64(len(upload.Payload)) > s.options.MaxUploadBytes {
		return dto.GradingRunResponse{}, ErrUploadTooLarge
	}

	format, err := batchio.DetectFormat(upload.Payload, upload.FileName)
	if err != nil {
		return dto.GradingRunResponse{}, err
	}

	pairs, err := batchio.ReadPairs(bytes.NewReader(upload.Payload), format)
	if err != nil {
		return dto.GradingRunResponse{}, err
	}

	label := upload.Label
	if label == "" {
		label = upload.FileName
	}

	run, err := s.Evaluate(ctx, RunInfo{Source: models.GradingRunSourceUpload, Label: label, Subject: upload.Subject}, pairs)
	if err != nil {
		return dto.GradingRunResponse{}, err
	}
	return dto.NewGradingRunResponse(run), nil
}

// Evaluate grades pairs, persists the run with its records and announces it.
func (s *gradingService) Evaluate(ctx context.Context, info RunInfo, pairs []grading.Pair) (models.GradingRun, error) {
	ctx, span := s.tracer.Start(ctx, "grading.run", trace.WithAttributes(
		attribute.String("grading.source", info.Source),
		attribute.Int("grading.items", len(pairs)),
	))
	defer span.End()

	fail := func(status string, err error) (models.GradingRun, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return models.GradingRun{}, err
	}

	if len(pairs) > s.options.MaxItems {
		return fail("batch_too_large", fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(pairs), s.options.MaxItems))
	}

	engine, err := s.engine()
	if err != nil {
		return fail("question_bank_empty", err)
	}

	evaluator := grading.NewEvaluator(engine,
		grading.WithConcurrency(s.options.Concurrency),
		grading.WithItemTimeout(s.options.ItemTimeout),
		grading.WithLogger(s.logger),
	)

	records, err := evaluator.Evaluate(ctx, pairs)
	if err != nil {
		return fail("evaluation_failed", err)
	}

	label := info.Label
	if label == "" {
		label = fmt.Sprintf("%s-%s", info.Source, uuid.NewString()[:8])
	}

	summary := grading.Summarize(records)
	run := models.GradingRun{
		Label:           label,
		Subject:         strings.TrimSpace(info.Subject),
		Source:          info.Source,
		TotalItems:      summary.Total,
		FailedItems:     summary.Failed,
		UnresolvedItems: summary.Unresolved,
		AverageScore:    summary.AverageScore,
		AverageMark:     summary.AverageMark,
		Records:         make([]models.GradingRecord, 0, len(records)),
	}
	for _, record := range records {
		run.Records = append(run.Records, models.GradingRecord{
			Position:        record.Position,
			StudentID:       record.Student.ID,
			StudentName:     record.Student.Name,
			QuestionID:      record.QuestionID,
			Question:        record.Question,
			StudentAnswer:   record.StudentAnswer,
			CleanedAnswer:   record.CleanedAnswer,
			SimilarityScore: record.SimilarityScore,
			Mark:            record.Mark,
			ReferenceAnswer: record.ReferenceAnswer,
			Resolved:        record.Resolved,
			Error:           record.Error,
		})
	}

	if err := s.runs.Create(ctx, &run); err != nil {
		return fail("persistence_failed", fmt.Errorf("store grading run: %w", err))
	}

	span.SetAttributes(
		attribute.Int64("grading.run_id", int64(run.ID)),
		attribute.Int("grading.failed", summary.Failed),
		attribute.Int("grading.unresolved", summary.Unresolved),
	)
	s.logger.Info().
		Uint("run_id", run.ID).
		Str("source", info.Source).
		Int("items", summary.Total).
		Int("failed", summary.Failed).
		Int("unresolved", summary.Unresolved).
		Float64("average_mark", summary.AverageMark).
		Msg("grading run completed")

	s.invalidateStats(ctx)
	s.publish(run)

	return run, nil
}

func (s *gradingService) publish(run models.GradingRun) {
	if s.events == nil || s.options.EventSubject == "" {
		return
	}

	payload, err := json.Marshal(RunCompletedEvent{
		RunID:        run.ID,
		Label:        run.Label,
		Subject:      run.Subject,
		Source:       run.Source,
		TotalItems:   run.TotalItems,
		FailedItems:  run.FailedItems,
		AverageScore: run.AverageScore,
		AverageMark:  run.AverageMark,
		CompletedAt:  s.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.events.Publish(s.options.EventSubject, payload); err != nil {
		s.logger.Warn().Err(err).Uint("run_id", run.ID).Msg("failed to publish run event")
	}
}

func (s *gradingService) ListRuns(ctx context.Context, req dto.GradingRunListRequest) (dto.GradingRunListResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GradingRunListResponse{}, err
	}

	page := req.Page
	if page <= 0 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	runs, total, err := s.runs.List(ctx, repository.GradingRunFilter{Source: req.Source, Page: page, PageSize: pageSize})
	if err != nil {
		return dto.GradingRunListResponse{}, err
	}

	items := make([]dto.GradingRunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, dto.NewGradingRunResponse(run))
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return dto.GradingRunListResponse{
		Items: items,
		Pagination: dto.PaginationMeta{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
			TotalPages: totalPages,
		},
	}, nil
}

func (s *gradingService) GetRun(ctx context.Context, id uint) (dto.GradingRunResponse, error) {
	run, err := s.loadRun(ctx, id)
	if err != nil {
		return dto.GradingRunResponse{}, err
	}
	return dto.NewGradingRunResponse(run), nil
}

func (s *gradingService) ExportRun(ctx context.Context, id uint, format batchio.Format) ([]byte, error) {
	run, err := s.loadRun(ctx, id)
	if err != nil {
		return nil, err
	}

	records := make([]grading.Record, 0, len(run.Records))
	for _, record := range run.Records {
		records = append(records, grading.Record{
			Result: grading.Result{
				QuestionID:      record.QuestionID,
				Question:        record.Question,
				CleanedAnswer:   record.CleanedAnswer,
				SimilarityScore: record.SimilarityScore,
				Mark:            record.Mark,
				ReferenceAnswer: record.ReferenceAnswer,
				Resolved:        record.Resolved,
			},
			Position:      record.Position,
			StudentAnswer: record.StudentAnswer,
			Student:       grading.Student{ID: record.StudentID, Name: record.StudentName},
			Error:         record.Error,
		})
	}

	var buf bytes.Buffer
	if err := batchio.WriteResults(&buf, format, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *gradingService) SearchStudents(ctx context.Context, req dto.StudentSearchRequest) ([]dto.StudentResultResponse, error) {
	req.Query = strings.TrimSpace(req.Query)
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	results, err := s.runs.SearchStudents(ctx, req.Query, limit)
	if err != nil {
		return nil, err
	}

	response := make([]dto.StudentResultResponse, 0, len(results))
	for _, result := range results {
		item := dto.StudentResultResponse{
			RunID:        result.RunID,
			StudentID:    result.StudentID,
			StudentName:  result.StudentName,
			Subject:      result.Subject,
			Items:        result.Items,
			TotalMarks:   result.TotalMarks,
			AverageScore: result.AverageScore,
			GradedAt:     result.CreatedAt,
		}
		if result.Items > 0 {
			maxMarks := float64(result.Items * grading.MaxMark)
			item.Percentage = math.Round(float64(result.TotalMarks)/maxMarks*10000) / 100
		}
		response = append(response, item)
	}
	return response, nil
}

func (s *gradingService) loadRun(ctx context.Context, id uint) (models.GradingRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingRun{}, ErrGradingRunNotFound
		}
		return models.GradingRun{}, err
	}
	return run, nil
}

func (s *gradingService) Stats(ctx context.Context) (dto.GradingStatsResponse, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, statsCacheKey).Result(); err == nil {
			var response dto.GradingStatsResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				response.CacheHit = true
				response.QuestionBankSize = s.bank.Current().Len()
				return response, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read stats cache")
		}
	}

	stats, err := s.runs.Stats(ctx)
	if err != nil {
		return dto.GradingStatsResponse{}, err
	}

	response := dto.GradingStatsResponse{
		Runs:             stats.Runs,
		Items:            stats.Items,
		Failed:           stats.Failed,
		Unresolved:       stats.Unresolved,
		AverageScore:     stats.AverageScore,
		AverageMark:      stats.AverageMark,
		MarkDistribution: dto.MarkDistributionKeys(stats.MarkDistribution),
		QuestionBankSize: s.bank.Current().Len(),
		EmbeddingModel:   s.embedder.Model(),
	}

	if s.cache != nil {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, statsCacheKey, payload, s.options.StatsCacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store stats cache")
			}
		}
	}

	return response, nil
}

func (s *gradingService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statsCacheKey).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate stats cache")
	}
}
