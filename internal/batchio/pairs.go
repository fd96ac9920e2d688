package batchio

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/questionbank"
)

// Batch input and output column names.
const (
	ColumnQuestion         = "question"
	ColumnQuestionID       = "question_id"
	ColumnStudentAnswer    = "student_answer"
	ColumnCleanedAnswer    = "cleaned_answer"
	ColumnSimilarityScore  = "similarity_score"
	ColumnMarks            = "marks"
	ColumnCorrectKeyAnswer = "correct_key_answer"
	ColumnError            = "error"
	ColumnStudentID        = "student_id"
	ColumnStudentName      = "student_name"
)

// ResultColumns is the header of every results file.
var ResultColumns = []string{
	ColumnQuestion,
	ColumnQuestionID,
	ColumnStudentAnswer,
	ColumnCleanedAnswer,
	ColumnSimilarityScore,
	ColumnMarks,
	ColumnCorrectKeyAnswer,
	ColumnError,
	ColumnStudentID,
	ColumnStudentName,
}

// ReadPairs parses a batch input file and returns one pair per data row, including rows
// whose cells are all empty. The header must contain student_answer and at least one of
// question or question_id; otherwise a *SchemaError is returned before any row is
// interpreted. A question_id that is not a non-negative integer marks only its own row as
// faulty. The optional student_id and student_name columns are carried to the records.
func ReadPairs(r io.Reader, format Format) ([]grading.Pair, error) {
	t, err := readTable(r, format)
	if err != nil {
		return nil, err
	}

	questionIdx, hasQuestion := t.column(ColumnQuestion)
	idIdx, hasID := t.column(ColumnQuestionID)
	answerIdx, hasAnswer := t.column(ColumnStudentAnswer)
	studentIDIdx, hasStudentID := t.column(ColumnStudentID)
	studentNameIdx, hasStudentName := t.column(ColumnStudentName)

	var missing []string
	if !hasQuestion && !hasID {
		missing = append(missing, ColumnQuestion+" or "+ColumnQuestionID)
	}
	if !hasAnswer {
		missing = append(missing, ColumnStudentAnswer)
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing, Found: t.header}
	}

	pairs := make([]grading.Pair, 0, len(t.rows))
	for _, row := range t.rows {
		var ref questionbank.Ref
		if hasQuestion {
			ref.Text = cell(row, questionIdx)
		}
		pair := grading.NewPair(ref, cell(row, answerIdx))
		if hasStudentID {
			pair.Student.ID = strings.TrimSpace(cell(row, studentIDIdx))
		}
		if hasStudentName {
			pair.Student.Name = strings.TrimSpace(cell(row, studentNameIdx))
		}
		if hasID {
			if raw := strings.TrimSpace(cell(row, idIdx)); raw != "" {
				id, err := parseQuestionID(raw)
				if err != nil {
					pair.Fault = err
				} else {
					pair.Ref.ID = &id
				}
			}
		}
		pairs = append(pairs, pair)
	}

	return pairs, nil
}

// parseQuestionID accepts integral values, including the "12.0" spreadsheets produce.
func parseQuestionID(raw string) (uint, error) {
	if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return uint(id), nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f != float64(uint64(f)) {
		return 0, fmt.Errorf("invalid question id %q", raw)
	}
	return uint(f), nil
}

// WriteResults writes one row per record, in record order.
func WriteResults(w io.Writer, format Format, records []grading.Record) error {
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, ResultColumns)
	for _, record := range records {
		rows = append(rows, resultRow(record))
	}
	return writeTable(w, format, "results", rows)
}

func resultRow(record grading.Record) []string {
	questionID := ""
	if record.QuestionID != nil {
		questionID = strconv.FormatUint(uint64(*record.QuestionID), 10)
	}
	return []string{
		record.Question,
		questionID,
		record.StudentAnswer,
		record.CleanedAnswer,
		strconv.FormatFloat(record.SimilarityScore, 'f', 4, 64),
		strconv.Itoa(record.Mark),
		record.ReferenceAnswer,
		record.Error,
		record.Student.ID,
		record.Student.Name,
	}
}
