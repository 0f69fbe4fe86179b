// Package validate checks uploaded data files. Column assignment problems are
// critical and stop validation before any row is read; row problems are
// collected into a Result that the uploader may force past.
package validate

import (
	"fmt"
	"strings"
)

// Kind classifies a ParseError.
type Kind string

const (
	KindColumn          Kind = "column"
	KindBadAccession    Kind = "bad_accession"
	KindBadPeptide      Kind = "bad_peptide"
	KindBadSites        Kind = "bad_sites"
	KindModification    Kind = "modification"
	KindAmbiguous       Kind = "ambiguous_modification"
	KindDuplicateNoRun  Kind = "duplicate_no_run"
	KindDuplicateRun    Kind = "duplicate_run"
	KindDataMissing     Kind = "data_missing"
	KindMissingColumn   Kind = "missing_column"
	KindProteinNotFound Kind = "protein_not_found"
)

// ParseError is one problem found in an uploaded file. Line and Column are
// 1-based; zero means "not applicable".
type ParseError struct {
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("Line %d, Column %d: %s", e.Line, e.Column, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("Line %d: %s", e.Line, e.Message)
	default:
		return e.Message
	}
}

func rowError(line int, kind Kind, format string, args ...interface{}) ParseError {
	return ParseError{Line: line, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func columnError(format string, args ...interface{}) ParseError {
	return ParseError{Kind: KindColumn, Message: fmt.Sprintf(format, args...)}
}

// Result is the outcome of a validation pass.
type Result struct {
	Errors   []ParseError `json:"errors"`
	Critical bool         `json:"critical"`
}

// OK reports whether no problem was found.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// Blocks reports whether the result prevents progression. Critical errors
// always block; other errors block unless the uploader forces the commit.
func (r Result) Blocks(force bool) bool {
	if len(r.Errors) == 0 {
		return false
	}
	return r.Critical || !force
}

// Messages renders every error with its position prefix.
func (r Result) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Error()
	}
	return out
}

func (r Result) String() string {
	return strings.Join(r.Messages(), "\n")
}
