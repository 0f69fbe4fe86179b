// Package columns infers the semantic role of each column of an uploaded
// data file from its header text and merges the result with assignments a
// user already saved. Everything here is a pure function of its inputs.
package columns

import (
	"regexp"
	"strings"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

var (
	seriesHeader = regexp.MustCompile(`(?i)^(data|stddev):(.+):(.+)$`)
	unitsHeader  = regexp.MustCompile(`^data:(.+):.+$`)
)

// prefixes are tried in order after the explicit series form.
var prefixes = []struct {
	prefix string
	tp     model.ColumnType
}{
	{"data", model.ColumnData},
	{"stddev", model.ColumnStddev},
	{"acc", model.ColumnAccession},
	{"mod", model.ColumnModification},
	{"pep", model.ColumnPeptide},
	{"site", model.ColumnSites},
}

// Assignment is the proposed column layout and measurement units of a file.
type Assignment struct {
	Columns []model.Column `json:"columns"`
	Units   string         `json:"units"`
}

// Classify returns the type and label implied by a single header cell.
func Classify(header string) (model.ColumnType, string) {
	if m := seriesHeader.FindStringSubmatch(header); m != nil {
		tp := strings.ToLower(m[1])
		units := strings.ToLower(m[2])
		if tp == "stddev" || strings.HasPrefix(units, "stddev") {
			return model.ColumnStddev, m[3]
		}
		return model.ColumnData, m[3]
	}
	lower := strings.ToLower(header)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p.prefix) {
			return p.tp, ""
		}
	}
	if lower == "run" {
		return model.ColumnRun, ""
	}
	return model.ColumnNone, ""
}

// Infer classifies every header cell, one column per cell.
func Infer(header []string) []model.Column {
	cols := make([]model.Column, len(header))
	for i, h := range header {
		tp, label := Classify(h)
		cols[i] = model.Column{Type: tp, Label: label, Number: i}
	}
	return cols
}

// FindUnits returns the units of the first data:<units>:<label> header.
func FindUnits(header []string) string {
	for _, h := range header {
		if m := unitsHeader.FindStringSubmatch(h); m != nil {
			return m[1]
		}
	}
	return ""
}

// Defaults proposes the column assignment for a session's file. Columns the
// session already stores win over inferred ones. A session without stored
// columns that extends a parent experiment inherits from the ancestor
// session, dropping ancestor columns past the end of the current header.
func Defaults(header []string, session *model.UploadSession, ancestor *model.UploadSession) Assignment {
	out := Assignment{Columns: Infer(header), Units: FindUnits(header)}

	var source *model.UploadSession
	switch {
	case session != nil && len(session.Columns) > 0:
		source = session
	case session != nil && session.ParentExperiment != nil && ancestor != nil:
		source = ancestor
	}
	if source == nil {
		return out
	}

	for _, c := range source.Columns {
		if c.Number < 0 {
			continue
		}
		if source == ancestor && c.Number >= len(header) {
			continue
		}
		for c.Number >= len(out.Columns) {
			out.Columns = append(out.Columns, model.Column{Type: model.ColumnNone, Number: len(out.Columns)})
		}
		out.Columns[c.Number] = model.Column{Type: c.Type, Label: c.Label, Number: c.Number}
	}
	if source.Units != "" {
		out.Units = source.Units
	}
	return out
}
