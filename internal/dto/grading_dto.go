package dto

import (
	"strconv"
	"time"

	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
)

// PaginationMeta captures pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// GradeRequest grades one answer. QuestionID wins over Question when both are set.
type GradeRequest struct {
	QuestionID    *uint   `json:"question_id"`
	Question      string  `json:"question" validate:"required_without=QuestionID,max=4000"`
	StudentAnswer *string `json:"student_answer" validate:"required,max=20000"`
}

// GradeItem is one row of a JSON batch. Field presence is checked by the evaluator so
// that a malformed row is reported with its position; an empty question is graded as
// unresolved.
type GradeItem struct {
	QuestionID    *uint   `json:"question_id"`
	Question      *string `json:"question"`
	StudentAnswer *string `json:"student_answer"`
	StudentID     string  `json:"student_id" validate:"max=64"`
	StudentName   string  `json:"student_name" validate:"max=255"`
}

// BatchGradeRequest submits a batch of answers for grading.
type BatchGradeRequest struct {
	Label   string      `json:"label" validate:"max=255"`
	Subject string      `json:"subject" validate:"max=255"`
	Items   []GradeItem `json:"items" validate:"required,min=1,dive"`
}

// BatchUpload carries an uploaded CSV or XLSX batch.
type BatchUpload struct {
	Label    string
	Subject  string
	FileName string
	Payload  []byte
}

// StudentSearchRequest looks up graded students by id, name or run subject.
type StudentSearchRequest struct {
	Query string `validate:"required,min=1,max=255"`
	Limit int    `validate:"gte=0,lte=100"`
}

// StudentResultResponse summarizes one student's answers within a run.
type StudentResultResponse struct {
	RunID        uint      `json:"run_id"`
	StudentID    string    `json:"student_id"`
	StudentName  string    `json:"student_name"`
	Subject      string    `json:"subject"`
	Items        int64     `json:"items"`
	TotalMarks   int64     `json:"total_marks"`
	Percentage   float64   `json:"percentage"`
	AverageScore float64   `json:"average_score"`
	GradedAt     time.Time `json:"graded_at"`
}

// GradeResultResponse is the outcome of grading a single answer.
type GradeResultResponse struct {
	QuestionID       *uint   `json:"question_id"`
	Question         string  `json:"question"`
	CleanedAnswer    string  `json:"cleaned_answer"`
	SimilarityScore  float64 `json:"similarity_score"`
	Marks            int     `json:"marks"`
	Band             string  `json:"band"`
	CorrectKeyAnswer string  `json:"correct_key_answer"`
	Resolved         bool    `json:"resolved"`
}

// GradingRecordResponse is one row of a graded batch.
type GradingRecordResponse struct {
	Position         int     `json:"position"`
	StudentID        string  `json:"student_id,omitempty"`
	StudentName      string  `json:"student_name,omitempty"`
	QuestionID       *uint   `json:"question_id"`
	Question         string  `json:"question"`
	StudentAnswer    string  `json:"student_answer"`
	CleanedAnswer    string  `json:"cleaned_answer"`
	SimilarityScore  float64 `json:"similarity_score"`
	Marks            int     `json:"marks"`
	CorrectKeyAnswer string  `json:"correct_key_answer"`
	Error            string  `json:"error,omitempty"`
}

// GradingRunResponse describes a persisted batch evaluation.
type GradingRunResponse struct {
	ID              uint                    `json:"id"`
	Label           string                  `json:"label"`
	Subject         string                  `json:"subject,omitempty"`
	Source          string                  `json:"source"`
	TotalItems      int                     `json:"total_items"`
	FailedItems     int                     `json:"failed_items"`
	UnresolvedItems int                     `json:"unresolved_items"`
	AverageScore    float64                 `json:"average_score"`
	AverageMark     float64                 `json:"average_mark"`
	CreatedAt       time.Time               `json:"created_at"`
	Records         []GradingRecordResponse `json:"records,omitempty"`
}

// GradingRunListRequest filters the run history.
type GradingRunListRequest struct {
	Source   string `validate:"omitempty,oneof=api upload cli"`
	Page     int    `validate:"gte=0"`
	PageSize int    `validate:"gte=0,lte=100"`
}

// GradingRunListResponse wraps a page of runs.
type GradingRunListResponse struct {
	Items      []GradingRunResponse `json:"items"`
	Pagination PaginationMeta       `json:"pagination"`
}

// GradingStatsResponse aggregates every persisted run.
type GradingStatsResponse struct {
	Runs             int64            `json:"runs"`
	Items            int64            `json:"items"`
	Failed           int64            `json:"failed"`
	Unresolved       int64            `json:"unresolved"`
	AverageScore     float64          `json:"average_score"`
	AverageMark      float64          `json:"average_mark"`
	MarkDistribution map[string]int64 `json:"mark_distribution"`
	QuestionBankSize int              `json:"question_bank_size"`
	EmbeddingModel   string           `json:"embedding_model"`
	CacheHit         bool             `json:"cache_hit"`
}

// NewGradeResultResponse maps an engine result.
func NewGradeResultResponse(result grading.Result) GradeResultResponse {
	response := GradeResultResponse{
		QuestionID:       result.QuestionID,
		Question:         result.Question,
		CleanedAnswer:    result.CleanedAnswer,
		SimilarityScore:  result.SimilarityScore,
		Marks:            result.Mark,
		CorrectKeyAnswer: result.ReferenceAnswer,
		Resolved:         result.Resolved,
	}
	if result.Resolved {
		response.Band = grading.Band(result.SimilarityScore)
	}
	return response
}

// NewGradingRunResponse maps a persisted run. Records are included when loaded.
func NewGradingRunResponse(run models.GradingRun) GradingRunResponse {
	response := GradingRunResponse{
		ID:              run.ID,
		Label:           run.Label,
		Subject:         run.Subject,
		Source:          run.Source,
		TotalItems:      run.TotalItems,
		FailedItems:     run.FailedItems,
		UnresolvedItems: run.UnresolvedItems,
		AverageScore:    run.AverageScore,
		AverageMark:     run.AverageMark,
		CreatedAt:       run.CreatedAt,
	}
	if len(run.Records) > 0 {
		response.Records = make([]GradingRecordResponse, 0, len(run.Records))
		for _, record := range run.Records {
			response.Records = append(response.Records, GradingRecordResponse{
				Position:         record.Position,
				StudentID:        record.StudentID,
				StudentName:      record.StudentName,
				QuestionID:       record.QuestionID,
				Question:         record.Question,
				StudentAnswer:    record.StudentAnswer,
				CleanedAnswer:    record.CleanedAnswer,
				SimilarityScore:  record.SimilarityScore,
				Marks:            record.Mark,
				CorrectKeyAnswer: record.ReferenceAnswer,
				Error:            record.Error,
			})
		}
	}
	return response
}

// MarkDistributionKeys renders mark buckets with string keys for JSON.
func MarkDistributionKeys(distribution map[int]int64) map[string]int64 {
	out := make(map[string]int64, len(distribution))
	for mark, total := range distribution {
		out[strconv.Itoa(mark)] = total
	}
	return out
}
