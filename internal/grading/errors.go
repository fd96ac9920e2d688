package grading

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/gema-grader/internal/questionbank"
)

var (
	// ErrQuestionNotFound is returned by store lookups for ids outside the index.
	ErrQuestionNotFound = questionbank.ErrQuestionNotFound
	// ErrStoreInconsistent means the resolver accepted an id the store cannot serve.
	ErrStoreInconsistent = errors.New("question store inconsistent")
	// ErrDimensionMismatch means answer and reference embeddings differ in length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// FieldIssue describes one missing required field in a batch input.
type FieldIssue struct {
	Position int    `json:"position"`
	Field    string `json:"field"`
}

// InputValidationError rejects a whole batch before any item is graded.
type InputValidationError struct {
	Issues []FieldIssue
}

func (e *InputValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid batch input"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("row %d: missing %s", issue.Position+1, issue.Field))
	}
	return "invalid batch input: " + strings.Join(parts, "; ")
}
