package service

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
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

//go:embed schemas/question_import.schema.json
var questionImportSchema []byte

const (
	embedChunkSize          = 64
	questionImportSchemaURL = "https://gema-grader.local/schemas/question_import.schema.json"
)

var (
	// ErrQuestionNotFound indicates the question was not located.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidImport indicates an import payload failed validation.
	ErrInvalidImport = errors.New("invalid question import")
)

// QuestionBankService resolves questions and rebuilds the question bank.
type QuestionBankService interface {
	Resolve(ctx context.Context, req dto.ResolveQuestionRequest) (dto.ResolveQuestionResponse, error)
	Get(ctx context.Context, id uint) (dto.QuestionResponse, error)
	ImportDataset(ctx context.Context, rows []batchio.DatasetRow) (dto.QuestionImportResponse, error)
	ImportFile(ctx context.Context, filename string, payload []byte) (dto.QuestionImportResponse, error)
	ImportJSON(ctx context.Context, payload []byte) (dto.QuestionImportResponse, error)
	Reload(ctx context.Context) (int, error)
}

type questionBankService struct {
	repo       repository.QuestionRepository
	bank       *questionbank.Holder
	normalizer grading.Normalizer
	embedder   embedding.Embedder
	validator  *validator.Validate
	schema     *jsonschema.Schema
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// NewQuestionBankService constructs the service. It fails only if the embedded import
// schema does not compile.
func NewQuestionBankService(
	repo repository.QuestionRepository,
	bank *questionbank.Holder,
	normalizer grading.Normalizer,
	embedder embedding.Embedder,
	validate *validator.Validate,
	logger zerolog.Logger,
) (QuestionBankService, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(questionImportSchemaURL, bytes.NewReader(questionImportSchema)); err != nil {
		return nil, fmt.Errorf("load import schema: %w", err)
	}
	schema, err := compiler.Compile(questionImportSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile import schema: %w", err)
	}

	return &questionBankService{
		repo:       repo,
		bank:       bank,
		normalizer: normalizer,
		embedder:   embedder,
		validator:  validate,
		schema:     schema,
		logger:     logger.With().Str("component", "question_bank_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-grader/internal/service/question_bank"),
	}, nil
}

func (s *questionBankService) Resolve(ctx context.Context, req dto.ResolveQuestionRequest) (dto.ResolveQuestionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ResolveQuestionResponse{}, err
	}

	idx := s.bank.Current()
	id, ok := idx.Resolve(questionbank.Ref{ID: req.QuestionID, Text: req.Question})
	if !ok {
		return dto.ResolveQuestionResponse{Found: false}, nil
	}

	text, _ := idx.NormalizedTextFor(id)
	return dto.ResolveQuestionResponse{Found: true, QuestionID: &id, NormalizedText: text}, nil
}

func (s *questionBankService) Get(ctx context.Context, id uint) (dto.QuestionResponse, error) {
	question, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.QuestionResponse{}, ErrQuestionNotFound
		}
		return dto.QuestionResponse{}, err
	}
	return dto.NewQuestionResponse(question), nil
}

// ImportDataset replaces the bank with rows. Each row position becomes the question id.
func (s *questionBankService) ImportDataset(ctx context.Context, rows []batchio.DatasetRow) (dto.QuestionImportResponse, error) {
	items := make([]dto.QuestionImportItem, len(rows))
	for i, row := range rows {
		id := uint(row.Position)
		items[i] = dto.QuestionImportItem{ID: &id, Question: row.Question, CorrectAnswer: row.Answer}
	}
	return s.importItems(ctx, items, true)
}

func (s *questionBankService) ImportFile(ctx context.Context, filename string, payload []byte) (dto.QuestionImportResponse, error) {
	format, err := batchio.DetectFormat(payload, filename)
	if err != nil {
		return dto.QuestionImportResponse{}, err
	}
	rows, err := batchio.ReadDataset(bytes.NewReader(payload), format)
	if err != nil {
		return dto.QuestionImportResponse{}, err
	}
	return s.ImportDataset(ctx, rows)
}

// ImportJSON validates payload against the import schema before decoding it.
func (s *questionBankService) ImportJSON(ctx context.Context, payload []byte) (dto.QuestionImportResponse, error) {
	var document interface{}
	if err := json.Unmarshal(payload, &document); err != nil {
		return dto.QuestionImportResponse{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if err := s.schema.Validate(document); err != nil {
		return dto.QuestionImportResponse{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}

	var req dto.QuestionImportRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return dto.QuestionImportResponse{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.QuestionImportResponse{}, err
	}

	for i := range req.Questions {
		if req.Questions[i].ID == nil {
			id := uint(i)
			req.Questions[i].ID = &id
		}
	}
	return s.importItems(ctx, req.Questions, req.Replace)
}

func (s *questionBankService) importItems(ctx context.Context, items []dto.QuestionImportItem, replace bool) (dto.QuestionImportResponse, error) {
	ctx, span := s.tracer.Start(ctx, "question_bank.import", trace.WithAttributes(
		attribute.Int("import.items", len(items)),
		attribute.Bool("import.replace", replace),
	))
	defer span.End()

	fail := func(status string, err error) (dto.QuestionImportResponse, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return dto.QuestionImportResponse{}, err
	}

	for i, item := range items {
		if strings.TrimSpace(item.Question) == "" || strings.TrimSpace(item.CorrectAnswer) == "" {
			return fail("invalid_item", fmt.Errorf("%w: row %d needs a question and a correct answer", ErrInvalidImport, i+1))
		}
	}

	questions, err := s.embedQuestions(ctx, items)
	if err != nil {
		return fail("embedding_failed", err)
	}

	merged := questions
	if !replace {
		existing, err := s.repo.ListAll(ctx)
		if err != nil {
			return fail("list_failed", err)
		}
		merged = mergeQuestions(existing, questions)
	}

	// Validate the resulting bank before anything is written.
	idx, err := questionbank.FromModels(merged)
	if err != nil {
		return fail("invalid_bank", fmt.Errorf("%w: %v", ErrInvalidImport, err))
	}

	if replace {
		err = s.repo.ReplaceAll(ctx, questions)
	} else {
		_, err = s.repo.UpsertBatch(ctx, questions)
	}
	if err != nil {
		return fail("persistence_failed", fmt.Errorf("store questions: %w", err))
	}

	s.bank.Store(idx)
	s.logger.Info().
		Int("imported", len(questions)).
		Int("total", idx.Len()).
		Int("dimension", idx.Dimension()).
		Bool("replace", replace).
		Msg("question bank imported")

	return dto.QuestionImportResponse{
		Imported:       len(questions),
		Total:          idx.Len(),
		Dimension:      idx.Dimension(),
		EmbeddingModel: s.embedder.Model(),
		Replaced:       replace,
	}, nil
}

// embedQuestions normalizes reference answers the same way student answers are
// normalized, so a verbatim reference answer scores 1.0. An answer that normalizes to
// nothing could never be matched and is rejected.
func (s *questionBankService) embedQuestions(ctx context.Context, items []dto.QuestionImportItem) ([]models.Question, error) {
	texts := make([]string, len(items))
	for i, item := range items {
		cleaned, err := s.normalizer.Normalize(item.CorrectAnswer)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidImport, i+1, err)
		}
		if cleaned == "" {
			return nil, fmt.Errorf("%w: row %d: correct answer has no gradable words", ErrInvalidImport, i+1)
		}
		texts[i] = cleaned
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedChunkSize {
		end := start + embedChunkSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := s.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed reference answers: %w", err)
		}
		vectors = append(vectors, chunk...)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d answers", embedding.ErrUnexpectedResponse, len(vectors), len(texts))
	}

	questions := make([]models.Question, len(items))
	for i, item := range items {
		questions[i] = models.Question{
			ID:              *item.ID,
			Text:            strings.TrimSpace(item.Question),
			NormalizedText:  questionbank.NormalizeQuestion(item.Question),
			ReferenceAnswer: strings.TrimSpace(item.CorrectAnswer),
			EmbeddingModel:  s.embedder.Model(),
		}
		questions[i].SetEmbedding(vectors[i])
	}
	return questions, nil
}

func mergeQuestions(existing, incoming []models.Question) []models.Question {
	replaced := make(map[uint]struct{}, len(incoming))
	for _, question := range incoming {
		replaced[question.ID] = struct{}{}
	}

	merged := make([]models.Question, 0, len(existing)+len(incoming))
	for _, question := range existing {
		if _, ok := replaced[question.ID]; !ok {
			merged = append(merged, question)
		}
	}
	return append(merged, incoming...)
}

func (s *questionBankService) Reload(ctx context.Context) (int, error) {
	idx, err := s.bank.Reload(ctx)
	if err != nil {
		return 0, err
	}
	return idx.Len(), nil
}
