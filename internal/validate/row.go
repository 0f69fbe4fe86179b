package validate

import (
	"errors"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/ptmscout/internal/accession"
	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/ptm"
)

// MaxRowCheck bounds the interactive validation pass.
const MaxRowCheck = 100

// Resolver resolves modification names against the PTM reference tree.
type Resolver interface {
	ResolvePeptide(peptide, modification string, taxons []string) ([]accession.Site, []*ptm.PTM, error)
	ResolveSites(sites, modification string, taxons []string) ([]accession.Site, []*ptm.PTM, error)
}

// Options tune a validation pass.
type Options struct {
	// NullModifications skips the modification column entirely.
	NullModifications bool
	// Limit caps the number of rows checked; zero or less means no cap.
	Limit int
	// Taxons restricts modification matching to a lineage when known.
	Taxons []string
}

// Row is the normalized content of one data row. Fields are filled on a
// best-effort basis even when the row has errors.
type Row struct {
	Line         int
	Accession    string
	Site         string
	Modification string
	Run          string
	HasRun       bool
	Series       []*float64
}

type rowKey struct {
	accession, site, modification, run string
}

// Validator checks rows one at a time and remembers the keys it has seen so
// that duplicates are reported on their second occurrence.
type Validator struct {
	layout *Layout
	mods   Resolver
	opts   Options
	keys   map[rowKey]bool
}

// NewValidator returns a validator for rows laid out as layout.
func NewValidator(layout *Layout, mods Resolver, opts Options) *Validator {
	return &Validator{layout: layout, mods: mods, opts: opts, keys: map[rowKey]bool{}}
}

var errMissing = errors.New("missing column")

func cell(row []string, c model.Column) (string, error) {
	if c.Number < 0 || c.Number >= len(row) {
		return "", errMissing
	}
	return strings.TrimSpace(row[c.Number]), nil
}

// CheckRow validates one data row. It never fails: every problem is
// returned as a ParseError.
func (v *Validator) CheckRow(line int, row []string) (Row, []ParseError) {
	out := Row{Line: line}
	errs, err := v.checkRow(line, row, &out)
	if err != nil {
		errs = append(errs, rowError(line, KindMissingColumn, "Warning: Row missing expected columns"))
	}
	return out, errs
}

func (v *Validator) checkRow(line int, row []string, out *Row) ([]ParseError, error) {
	var errs []ParseError
	l := v.layout

	acc, err := cell(row, l.Accession)
	if err != nil {
		return errs, err
	}
	out.Accession = acc

	if l.Modification != nil && !v.opts.NullModifications {
		mod, err := cell(row, *l.Modification)
		if err != nil {
			return errs, err
		}
		out.Modification = mod
	}

	if !accession.Valid(acc) {
		errs = append(errs, ParseError{
			Line:    line,
			Column:  l.Accession.Number + 1,
			Kind:    KindBadAccession,
			Message: "Warning: Accession '" + acc + "' has an unrecognized accession type",
		})
	}

	checkMods := l.Modification != nil && !v.opts.NullModifications && v.mods != nil
	if l.Peptide != nil {
		pep, err := cell(row, *l.Peptide)
		if err != nil {
			return errs, err
		}
		if !accession.CheckPeptideAlphabet(pep) {
			errs = append(errs, ParseError{
				Line:    line,
				Column:  l.Peptide.Number + 1,
				Kind:    KindBadPeptide,
				Message: "Warning: Peptide column contains peptide with incorrect formatting",
			})
		}
		if checkMods {
			if _, _, err := v.mods.ResolvePeptide(pep, out.Modification, v.opts.Taxons); err != nil {
				errs = append(errs, modificationError(line, err))
			}
		}
		out.Site = pep
	} else {
		sites, err := cell(row, *l.Sites)
		if err != nil {
			return errs, err
		}
		normed, nerr := accession.NormalizeSiteList(sites)
		if nerr != nil {
			errs = append(errs, rowError(line, KindBadSites, "Invalid formatting for sites: %s", sites))
		} else {
			if checkMods {
				if _, _, err := v.mods.ResolveSites(normed, out.Modification, v.opts.Taxons); err != nil {
					errs = append(errs, modificationError(line, err))
				}
			}
			sites = normed
		}
		out.Site = sites
	}

	key := rowKey{accession: out.Accession, site: out.Site, modification: out.Modification}
	if l.Run != nil {
		run, err := cell(row, *l.Run)
		if err != nil {
			return errs, err
		}
		out.Run, out.HasRun = run, true
		key.run = run
		if v.keys[key] {
			errs = append(errs, rowError(line, KindDuplicateRun, "Warning: Experiment contains multiple datapoints for the same protein/peptide/modification/run tuplet"))
		}
	} else if v.keys[key] {
		errs = append(errs, rowError(line, KindDuplicateNoRun, "Warning: Experiment contains multiple datapoints for the same protein/peptide/modification tuplet, but no run column"))
	}
	v.keys[key] = true

	hasData := false
	series := make([]*float64, 0, len(l.Data)+len(l.Stddev))
	for _, c := range append(append([]model.Column{}, l.Data...), l.Stddev...) {
		raw, err := cell(row, c)
		if err != nil {
			return errs, err
		}
		f, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			series = append(series, nil)
			continue
		}
		hasData = true
		series = append(series, &f)
	}
	out.Series = series
	if len(l.Data) > 0 && !hasData {
		errs = append(errs, rowError(line, KindDataMissing, "Warning: Data fields were not set for this run"))
	}
	return errs, nil
}

func modificationError(line int, err error) ParseError {
	var me *ptm.MatchError
	if errors.As(err, &me) {
		kind := KindModification
		if me.Kind == ptm.KindAmbiguous {
			kind = KindAmbiguous
		}
		return rowError(line, kind, "%s", me.Message)
	}
	return rowError(line, KindModification, "%s", err.Error())
}

// Check runs the full validation: column rules first, then every row (up to
// opts.Limit). Column rule violations stop validation and are critical.
func Check(cols []model.Column, rows [][]string, mods Resolver, opts Options) Result {
	layout, errs := CheckColumns(cols, opts.NullModifications)
	if len(errs) > 0 {
		return Result{Errors: errs, Critical: true}
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	v := NewValidator(layout, mods, opts)
	var out []ParseError
	for i, row := range rows {
		_, rowErrs := v.CheckRow(i+1, row)
		out = append(out, rowErrs...)
	}
	return Result{Errors: out}
}
