package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ResolveQuestionRequest looks a question up by id or text.
type ResolveQuestionRequest struct {
	QuestionID *uint  `json:"question_id"`
	Question   string `json:"question" validate:"required_without=QuestionID,max=4000"`
}

// ResolveQuestionResponse reports the resolved id, if any.
type ResolveQuestionResponse struct {
	Found          bool   `json:"found"`
	QuestionID     *uint  `json:"question_id"`
	NormalizedText string `json:"normalized_text,omitempty"`
}

// QuestionImportItem is one question of a JSON import. Without an id the item position
// is used.
type QuestionImportItem struct {
	ID            *uint  `json:"id"`
	Question      string `json:"question" validate:"required,max=4000"`
	CorrectAnswer string `json:"correct_answer" validate:"required,max=20000"`
}

// QuestionImportRequest imports questions into the bank. Replace swaps the whole bank;
// otherwise items are merged by id.
type QuestionImportRequest struct {
	Replace   bool                 `json:"replace"`
	Questions []QuestionImportItem `json:"questions" validate:"required,min=1,dive"`
}

// QuestionImportResponse summarises an import.
type QuestionImportResponse struct {
	Imported       int    `json:"imported"`
	Total          int    `json:"total"`
	Dimension      int    `json:"dimension"`
	EmbeddingModel string `json:"embedding_model"`
	Replaced       bool   `json:"replaced"`
}

// QuestionResponse serializes a stored question.
type QuestionResponse struct {
	ID              uint      `json:"id"`
	Text            string    `json:"text"`
	NormalizedText  string    `json:"normalized_text"`
	ReferenceAnswer string    `json:"reference_answer"`
	EmbeddingModel  string    `json:"embedding_model"`
	Dimension       int       `json:"dimension"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewQuestionResponse maps a stored question.
func NewQuestionResponse(question models.Question) QuestionResponse {
	return QuestionResponse{
		ID:              question.ID,
		Text:            question.Text,
		NormalizedText:  question.NormalizedText,
		ReferenceAnswer: question.ReferenceAnswer,
		EmbeddingModel:  question.EmbeddingModel,
		Dimension:       question.Dimension,
		UpdatedAt:       question.UpdatedAt,
	}
}
