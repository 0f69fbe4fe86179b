package datafile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/validate"
)

// DefaultRun names the single run of a file without a run column.
const DefaultRun = "average"

// ErrBadColumns is returned when the column assignment cannot be parsed.
var ErrBadColumns = errors.New("invalid column assignment")

// SiteKey identifies a peptide or site list on a protein accession.
type SiteKey struct {
	Accession string `json:"accession"`
	Site      string `json:"site"`
}

// MeasureKey identifies one measured (accession, site, modification) tuple.
type MeasureKey struct {
	Accession    string `json:"accession"`
	Site         string `json:"site"`
	Modification string `json:"modification"`
}

// Run is one named series of values for a measurement. Series follows the
// order returned by SeriesHeaders; nil marks a missing value.
type Run struct {
	Name   string     `json:"name"`
	Line   int        `json:"line"`
	Series []*float64 `json:"series"`
}

// Parsed is the aggregate of a full data file pass. Rejected rows appear only
// in Errors and LineMapping.
type Parsed struct {
	SiteType    model.ColumnType
	Accessions  map[string][]int
	SitesMap    map[string][]string
	ModMap      map[SiteKey][]string
	DataRuns    map[MeasureKey][]Run
	LineMapping map[int]SiteKey
	Errors      []validate.ParseError

	accessionOrder []string
	measureOrder   []MeasureKey
}

// AccessionList returns the accepted accessions in first-seen order.
func (p *Parsed) AccessionList() []string {
	return append([]string(nil), p.accessionOrder...)
}

// Measurements returns the accepted measurement keys in first-seen order.
func (p *Parsed) Measurements() []MeasureKey {
	return append([]MeasureKey(nil), p.measureOrder...)
}

// Lines returns every line mapped to acc, accepted or not, in file order.
func (p *Parsed) Lines(acc string) []int {
	var out []int
	for line := 1; line <= len(p.LineMapping); line++ {
		if k, ok := p.LineMapping[line]; ok && k.Accession == acc {
			out = append(out, line)
		}
	}
	return out
}

// Parse runs the row checks over every row and aggregates the rows that pass.
func Parse(cols []model.Column, rows [][]string, mods validate.Resolver, opts validate.Options) (*Parsed, error) {
	layout, colErrs := validate.CheckColumns(cols, opts.NullModifications)
	if len(colErrs) > 0 {
		msgs := make([]string, len(colErrs))
		for i, e := range colErrs {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("%w: %s", ErrBadColumns, strings.Join(msgs, "; "))
	}

	p := &Parsed{
		SiteType:    layout.SiteType(),
		Accessions:  map[string][]int{},
		SitesMap:    map[string][]string{},
		ModMap:      map[SiteKey][]string{},
		DataRuns:    map[MeasureKey][]Run{},
		LineMapping: map[int]SiteKey{},
	}
	v := validate.NewValidator(layout, mods, opts)
	for i, raw := range rows {
		line := i + 1
		row, errs := v.CheckRow(line, raw)
		p.LineMapping[line] = SiteKey{Accession: row.Accession, Site: row.Site}
		if len(errs) > 0 {
			p.Errors = append(p.Errors, errs...)
			continue
		}
		p.add(row)
	}
	return p, nil
}

func (p *Parsed) add(row validate.Row) {
	acc, site := row.Accession, row.Site
	if _, ok := p.Accessions[acc]; !ok {
		p.accessionOrder = append(p.accessionOrder, acc)
	}
	p.Accessions[acc] = append(p.Accessions[acc], row.Line)
	p.SitesMap[acc] = addUnique(p.SitesMap[acc], site)

	sk := SiteKey{Accession: acc, Site: site}
	p.ModMap[sk] = addUnique(p.ModMap[sk], row.Modification)

	mk := MeasureKey{Accession: acc, Site: site, Modification: row.Modification}
	runs, seen := p.DataRuns[mk]
	if !seen {
		p.measureOrder = append(p.measureOrder, mk)
	}
	name := DefaultRun
	if row.HasRun {
		name = row.Run
	}
	run := Run{Name: name, Line: row.Line, Series: row.Series}
	for i := range runs {
		if runs[i].Name == name {
			runs[i] = run
			p.DataRuns[mk] = runs
			return
		}
	}
	p.DataRuns[mk] = append(runs, run)
}

func addUnique(set []string, v string) []string {
	for _, s := range set {
		if s == v {
			return set
		}
	}
	return append(set, v)
}

// SeriesHeader names one position of a run series.
type SeriesHeader struct {
	Type  model.ColumnType `json:"type"`
	Label string           `json:"label"`
}

// SeriesHeaders lists the data columns then the stddev columns, matching the
// order of Run.Series.
func SeriesHeaders(cols []model.Column) []SeriesHeader {
	var out []SeriesHeader
	for _, tp := range []model.ColumnType{model.ColumnData, model.ColumnStddev} {
		for _, c := range model.ColumnsOfType(cols, tp) {
			out = append(out, SeriesHeader{Type: tp, Label: c.Label})
		}
	}
	return out
}
