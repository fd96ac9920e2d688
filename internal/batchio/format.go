// Package batchio reads batch grading inputs and question datasets from CSV or XLSX
// files and writes graded results back in either format.
package batchio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Format is a supported tabular file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ErrUnsupportedFormat indicates the payload is neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// SchemaError reports required columns missing from a file header.
type SchemaError struct {
	Missing []string
	Found   []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required column(s) %s; found %s",
		strings.Join(e.Missing, ", "), strings.Join(e.Found, ", "))
}

// ParseFormat maps a name or file extension ("csv", ".xlsx") onto a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), ".") {
	case "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// DetectFormat sniffs the payload. The file name is consulted only when the content is
// ambiguous, e.g. a zip container that is not recognised as a workbook.
func DetectFormat(payload []byte, filename string) (Format, error) {
	detected := mimetype.Detect(payload)

	switch {
	case detected.Is(xlsxMIME):
		return FormatXLSX, nil
	case detected.Is("application/zip"):
		if format, err := FormatFromPath(filename); err == nil && format == FormatXLSX {
			return FormatXLSX, nil
		}
	}

	for m := detected; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return FormatCSV, nil
		}
	}

	return "", fmt.Errorf("%w: detected %s", ErrUnsupportedFormat, detected.String())
}
