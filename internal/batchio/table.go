package batchio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// table is a header plus every data row in file order. Rows whose cells are all empty
// are kept; callers decide what such a row means.
type table struct {
	header  []string
	columns map[string]int
	rows    [][]string
}

func readTable(r io.Reader, format Format) (table, error) {
	var raw [][]string
	var err error

	switch format {
	case FormatCSV:
		raw, err = readCSV(r)
	case FormatXLSX:
		raw, err = readXLSX(r)
	default:
		return table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return table{}, err
	}
	if len(raw) == 0 {
		return table{}, &SchemaError{Missing: []string{"header"}}
	}

	t := table{header: make([]string, len(raw[0])), columns: map[string]int{}}
	for i, name := range raw[0] {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		t.header[i] = name
		if _, exists := t.columns[name]; !exists && name != "" {
			t.columns[name] = i
		}
	}

	t.rows = raw[1:]
	return t, nil
}

// column returns the index of the first present name.
func (t table) column(names ...string) (int, bool) {
	for _, name := range names {
		if idx, ok := t.columns[name]; ok {
			return idx, true
		}
	}
	return 0, false
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func isBlank(row []string) bool {
	for _, value := range row {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func writeTable(w io.Writer, format Format, sheet string, rows [][]string) error {
	switch format {
	case FormatCSV:
		writer := csv.NewWriter(w)
		if err := writer.WriteAll(rows); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		return nil
	case FormatXLSX:
		return writeXLSX(w, sheet, rows)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func writeXLSX(w io.Writer, sheet string, rows [][]string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, value := range row {
			values[j] = value
		}
		if err := f.SetSheetRow(sheet, cellRef, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
