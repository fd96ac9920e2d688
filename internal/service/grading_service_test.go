package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/batchio"
	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/questionbank"
)

func strPtr(v string) *string { return &v }

func uintPtr(v uint) *uint { return &v }

func TestGradingServiceRequiresQuestionBank(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})

	_, err := fixture.grading.Grade(context.Background(), dto.GradeRequest{QuestionID: uintPtr(0), StudentAnswer: strPtr("x")})
	require.ErrorIs(t, err, ErrQuestionBankEmpty)
}

func TestGradingServiceGrade(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)
	ctx := context.Background()

	result, err := fixture.grading.Grade(ctx, dto.GradeRequest{
		QuestionID:    uintPtr(0),
		StudentAnswer: strPtr("The mitochondria is the powerhouse of the cell"),
	})
	require.NoError(t, err)
	require.True(t, result.Resolved)
	require.Equal(t, 10, result.Marks)
	require.Equal(t, "excellent", result.Band)
	require.InDelta(t, 1.0, result.SimilarityScore, 1e-5)
	require.Equal(t, "The mitochondria is the powerhouse of the cell", result.CorrectKeyAnswer)

	missing, err := fixture.grading.Grade(ctx, dto.GradeRequest{
		Question:      "What is the powerhouse of a cell?",
		StudentAnswer: strPtr("mitochondria"),
	})
	require.NoError(t, err)
	require.False(t, missing.Resolved)
	require.Zero(t, missing.Marks)
	require.Equal(t, grading.QuestionNotFound, missing.CorrectKeyAnswer)
}

func TestGradingServiceGradeValidatesPayload(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)

	_, err := fixture.grading.Grade(context.Background(), dto.GradeRequest{Question: "What is DNA?"})
	var validationErrs validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrs))

	_, err = fixture.grading.Grade(context.Background(), dto.GradeRequest{StudentAnswer: strPtr("x")})
	require.True(t, errors.As(err, &validationErrs))
}

func TestGradingServiceGradeBatchPersistsAndPublishes(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{Concurrency: 2})
	fixture.importSample(t)
	ctx := context.Background()

	run, err := fixture.grading.GradeBatch(ctx, dto.BatchGradeRequest{
		Label: "quiz",
		Items: []dto.GradeItem{
			{QuestionID: uintPtr(1), StudentAnswer: strPtr("Plants absorb carbon dioxide from the air")},
			{Question: strPtr("unknown question"), StudentAnswer: strPtr("whatever")},
			{Question: strPtr("At what temperature does water boil?"), StudentAnswer: strPtr("")},
		},
	})
	require.NoError(t, err)
	require.NotZero(t, run.ID)
	require.Equal(t, "quiz", run.Label)
	require.Equal(t, models.GradingRunSourceAPI, run.Source)
	require.Equal(t, 3, run.TotalItems)
	require.Equal(t, 1, run.UnresolvedItems)
	require.Zero(t, run.FailedItems)
	require.Len(t, run.Records, 3)
	require.Equal(t, 10, run.Records[0].Marks)
	require.Equal(t, grading.QuestionNotFound, run.Records[1].CorrectKeyAnswer)
	require.Equal(t, 3, run.Records[2].Marks)

	require.Len(t, fixture.publisher.payloads, 1)
	require.Equal(t, "grading.run.completed", fixture.publisher.subjects[0])
	var event RunCompletedEvent
	require.NoError(t, json.Unmarshal(fixture.publisher.payloads[0], &event))
	require.Equal(t, run.ID, event.RunID)
	require.Equal(t, 3, event.TotalItems)

	stored, err := fixture.grading.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stored.Records, 3)
	for i, record := range stored.Records {
		require.Equal(t, i, record.Position)
	}

	list, err := fixture.grading.ListRuns(ctx, dto.GradingRunListRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(1), list.Pagination.TotalItems)
	require.Equal(t, 1, list.Pagination.TotalPages)
	require.Empty(t, list.Items[0].Records)
}

func TestGradingServiceGradeBatchRejectsMissingFields(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)

	_, err := fixture.grading.GradeBatch(context.Background(), dto.BatchGradeRequest{
		Items: []dto.GradeItem{
			{QuestionID: uintPtr(0), StudentAnswer: strPtr("mitochondria")},
			{QuestionID: uintPtr(1)},
		},
	})
	var inputErr *grading.InputValidationError
	require.ErrorAs(t, err, &inputErr)
	require.Empty(t, fixture.publisher.payloads)

	list, err := fixture.grading.ListRuns(context.Background(), dto.GradingRunListRequest{})
	require.NoError(t, err)
	require.Zero(t, list.Pagination.TotalItems)
}

func TestGradingServiceGradeBatchGradesEmptyQuestionAsUnresolved(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)
	ctx := context.Background()

	run, err := fixture.grading.GradeBatch(ctx, dto.BatchGradeRequest{
		Subject: "Biology",
		Items: []dto.GradeItem{
			{QuestionID: uintPtr(0), StudentAnswer: strPtr("The mitochondria is the powerhouse of the cell"), StudentID: "S-01", StudentName: "Ani"},
			{Question: strPtr(""), StudentAnswer: strPtr("an answer without a question"), StudentID: "S-02", StudentName: "Budi"},
			{QuestionID: uintPtr(1), StudentAnswer: strPtr("Plants absorb carbon dioxide from the air")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Biology", run.Subject)
	require.Equal(t, 3, run.TotalItems)
	require.Equal(t, 1, run.UnresolvedItems)
	require.Zero(t, run.FailedItems)
	require.Len(t, run.Records, 3)
	require.Equal(t, 10, run.Records[0].Marks)
	require.Zero(t, run.Records[1].Marks)
	require.Equal(t, grading.QuestionNotFound, run.Records[1].CorrectKeyAnswer)
	require.Equal(t, 10, run.Records[2].Marks)

	stored, err := fixture.grading.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, "Biology", stored.Subject)
	require.Equal(t, "S-02", stored.Records[1].StudentID)
	require.Equal(t, "Budi", stored.Records[1].StudentName)
}

func TestGradingServiceUploadKeepsBlankRows(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)
	ctx := context.Background()

	payload := "question,student_answer\n" +
		"What is the powerhouse of the cell?,mitochondria\n" +
		",\n" +
		"At what temperature does water boil?,one hundred degrees\n"

	run, err := fixture.grading.GradeUpload(ctx, dto.BatchUpload{FileName: "answers.csv", Subject: "Science", Payload: []byte(payload)})
	require.NoError(t, err)
	require.Equal(t, 3, run.TotalItems)
	require.Len(t, run.Records, 3)
	require.Equal(t, "Science", run.Subject)
	require.Zero(t, run.Records[1].Marks)
	require.Equal(t, grading.QuestionNotFound, run.Records[1].CorrectKeyAnswer)

	exported, err := fixture.grading.ExportRun(ctx, run.ID, batchio.FormatCSV)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(string(exported)), "\n"), 4)
}

func TestGradingServiceUploadInvalidIDIsRowError(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)

	payload := "question_id,student_answer\n0,mitochondria\nabc,b\n2,water boils\n"
	run, err := fixture.grading.GradeUpload(context.Background(), dto.BatchUpload{FileName: "answers.csv", Payload: []byte(payload)})
	require.NoError(t, err)
	require.Equal(t, 3, run.TotalItems)
	require.Equal(t, 1, run.FailedItems)
	require.Contains(t, run.Records[1].Error, `invalid question id "abc"`)
	require.Equal(t, grading.ErrorPlaceholder, run.Records[1].CorrectKeyAnswer)
}

func TestGradingServiceSearchStudents(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)
	ctx := context.Background()

	run, err := fixture.grading.GradeBatch(ctx, dto.BatchGradeRequest{
		Subject: "Biology",
		Items: []dto.GradeItem{
			{QuestionID: uintPtr(0), StudentAnswer: strPtr("The mitochondria is the powerhouse of the cell"), StudentID: "S-01", StudentName: "Ani"},
			{QuestionID: uintPtr(9), StudentAnswer: strPtr("unknown"), StudentID: "S-01", StudentName: "Ani"},
			{QuestionID: uintPtr(1), StudentAnswer: strPtr("Plants absorb carbon dioxide from the air"), StudentID: "S-02", StudentName: "Budi"},
		},
	})
	require.NoError(t, err)

	results, err := fixture.grading.SearchStudents(ctx, dto.StudentSearchRequest{Query: " ani "})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, run.ID, results[0].RunID)
	require.Equal(t, "S-01", results[0].StudentID)
	require.Equal(t, "Biology", results[0].Subject)
	require.Equal(t, int64(2), results[0].Items)
	require.Equal(t, int64(10), results[0].TotalMarks)
	require.InDelta(t, 50.0, results[0].Percentage, 1e-9)

	bySubject, err := fixture.grading.SearchStudents(ctx, dto.StudentSearchRequest{Query: "bio"})
	require.NoError(t, err)
	require.Len(t, bySubject, 2)

	_, err = fixture.grading.SearchStudents(ctx, dto.StudentSearchRequest{Query: "   "})
	var validationErrs validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrs))
}

func TestGradingServiceMaxItems(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{MaxItems: 1})
	fixture.importSample(t)

	pairs := []grading.Pair{
		grading.NewPair(questionbank.ByID(0), "a"),
		grading.NewPair(questionbank.ByID(1), "b"),
	}
	_, err := fixture.grading.Evaluate(context.Background(), RunInfo{Source: models.GradingRunSourceCLI}, pairs)
	require.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestGradingServiceUploadAndExport(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)
	ctx := context.Background()

	payload := "question,student_answer\n" +
		"What is the powerhouse of the cell?,mitochondria powerhouse cell\n" +
		"What is the capital of France?,Paris\n"

	run, err := fixture.grading.GradeUpload(ctx, dto.BatchUpload{FileName: "answers.csv", Payload: []byte(payload)})
	require.NoError(t, err)
	require.Equal(t, models.GradingRunSourceUpload, run.Source)
	require.Equal(t, "answers.csv", run.Label)
	require.Equal(t, 2, run.TotalItems)
	require.Equal(t, 10, run.Records[0].Marks)

	exported, err := fixture.grading.ExportRun(ctx, run.ID, batchio.FormatCSV)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(exported)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, strings.Join(batchio.ResultColumns, ","), lines[0])
	require.Contains(t, lines[2], grading.QuestionNotFound)

	_, err = fixture.grading.GradeUpload(ctx, dto.BatchUpload{FileName: "bad.csv", Payload: []byte("question,answer\nq,a\n")})
	var schemaErr *batchio.SchemaError
	require.ErrorAs(t, err, &schemaErr)

	_, err = fixture.grading.ExportRun(ctx, run.ID+100, batchio.FormatCSV)
	require.ErrorIs(t, err, ErrGradingRunNotFound)
}

func TestGradingServiceUploadTooLarge(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{MaxUploadBytes: 8})
	fixture.importSample(t)

	_, err := fixture.grading.GradeUpload(context.Background(), dto.BatchUpload{FileName: "a.csv", Payload: []byte("question,student_answer\n")})
	require.ErrorIs(t, err, ErrUploadTooLarge)
}

func TestGradingServiceStatsCache(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)
	ctx := context.Background()

	_, err := fixture.grading.GradeBatch(ctx, dto.BatchGradeRequest{Items: []dto.GradeItem{
		{QuestionID: uintPtr(0), StudentAnswer: strPtr("The mitochondria is the powerhouse of the cell")},
	}})
	require.NoError(t, err)

	first, err := fixture.grading.Stats(ctx)
	require.NoError(t, err)
	require.False(t, first.CacheHit)
	require.Equal(t, int64(1), first.Runs)
	require.Equal(t, 3, first.QuestionBankSize)
	require.Equal(t, map[string]int64{"10": 1}, first.MarkDistribution)
	require.True(t, fixture.redis.Exists(statsCacheKey))

	second, err := fixture.grading.Stats(ctx)
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.Equal(t, first.Runs, second.Runs)

	_, err = fixture.grading.GradeBatch(ctx, dto.BatchGradeRequest{Items: []dto.GradeItem{
		{QuestionID: uintPtr(2), StudentAnswer: strPtr("boiling")},
	}})
	require.NoError(t, err)
	require.False(t, fixture.redis.Exists(statsCacheKey))

	third, err := fixture.grading.Stats(ctx)
	require.NoError(t, err)
	require.False(t, third.CacheHit)
	require.Equal(t, int64(2), third.Runs)
}

func TestGradingServiceGetRunNotFound(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})

	_, err := fixture.grading.GetRun(context.Background(), 42)
	require.ErrorIs(t, err, ErrGradingRunNotFound)
}
