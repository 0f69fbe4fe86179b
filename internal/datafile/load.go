// Package datafile reads uploaded experiment files and aggregates their rows
// into the maps the import chain consumes.
package datafile

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrorColumnTitle heads the column a rejected-row export prepends. Files
// re-uploaded after fixing errors carry it and it is stripped on load.
const ErrorColumnTitle = "Error Information"

// ErrEmptyFile is returned when a file has no header row.
var ErrEmptyFile = errors.New("data file is empty")

// ErrUnsupportedFormat is returned for extensions Open cannot read.
var ErrUnsupportedFormat = errors.New("unsupported data file format")

// Table is a header plus data rows, all cut to the same column window.
type Table struct {
	Header []string
	Rows   [][]string
}

// Open reads name from r, choosing the reader by extension. A negative limit
// reads every row.
func Open(name string, r io.Reader, limit int) (*Table, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "tsv", "txt":
		return Load(r, limit)
	case "xlsx":
		return LoadXLSX(r, limit)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

// Load reads a tab separated file.
func Load(r io.Reader, limit int) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	start, width := window(header)
	t := &Table{Header: cut(header, start, width)}
	for limit < 0 || len(t.Rows) < limit {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(t.Rows)+1, err)
		}
		t.Rows = append(t.Rows, cut(row, start, width))
	}
	return t, nil
}

// LoadXLSX reads the first sheet of a workbook. Short rows are padded to the
// header width because the workbook omits trailing empty cells.
func LoadXLSX(r io.Reader, limit int) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}
	start, width := window(rows[0])
	t := &Table{Header: cut(rows[0], start, width)}
	for _, row := range rows[1:] {
		if limit >= 0 && len(t.Rows) >= limit {
			break
		}
		for len(row) < width {
			row = append(row, "")
		}
		t.Rows = append(t.Rows, cut(row, start, width))
	}
	return t, nil
}

// window returns the [start, width) column range kept from every row.
func window(header []string) (int, int) {
	width := len(header)
	for width > 0 && strings.TrimSpace(header[width-1]) == "" {
		width--
	}
	start := 0
	if width > 0 && strings.EqualFold(strings.TrimSpace(header[0]), ErrorColumnTitle) {
		start = 1
	}
	return start, width
}

func cut(row []string, start, width int) []string {
	if width > len(row) {
		width = len(row)
	}
	if start >= width {
		return []string{}
	}
	out := make([]string, width-start)
	copy(out, row[start:width])
	return out
}

// Truncate shortens every cell longer than n to n characters plus "...".
// It is used for the sample rows shown while assigning columns.
func Truncate(rows [][]string, n int) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = make([]string, len(row))
		for j, c := range row {
			if n > 0 && len(c) > n {
				c = c[:n] + "..."
			}
			out[i][j] = c
		}
	}
	return out
}
