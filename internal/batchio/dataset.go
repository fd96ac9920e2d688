package batchio

import (
	"io"
	"strings"
)

// Dataset column names. "answer" is accepted in place of correct_answer.
const (
	ColumnDatasetQuestion = "question"
	ColumnCorrectAnswer   = "correct_answer"
	ColumnAnswerAlias     = "answer"
)

// DatasetRow is one question of an index-building dataset. Position is the zero-based
// data row index and becomes the question id; rows with every cell empty are skipped
// without shifting the positions of later rows.
type DatasetRow struct {
	Position int
	Question string
	Answer   string
}

// ReadDataset parses a question dataset.
func ReadDataset(r io.Reader, format Format) ([]DatasetRow, error) {
	t, err := readTable(r, format)
	if err != nil {
		return nil, err
	}

	questionIdx, hasQuestion := t.column(ColumnDatasetQuestion)
	answerIdx, hasAnswer := t.column(ColumnCorrectAnswer, ColumnAnswerAlias)

	var missing []string
	if !hasQuestion {
		missing = append(missing, ColumnDatasetQuestion)
	}
	if !hasAnswer {
		missing = append(missing, ColumnCorrectAnswer)
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing, Found: t.header}
	}

	rows := make([]DatasetRow, 0, len(t.rows))
	for position, row := range t.rows {
		if isBlank(row) {
			continue
		}
		rows = append(rows, DatasetRow{
			Position: position,
			Question: strings.TrimSpace(cell(row, questionIdx)),
			Answer:   strings.TrimSpace(cell(row, answerIdx)),
		})
	}
	return rows, nil
}
