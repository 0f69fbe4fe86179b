package validate

import (
	"strings"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

// Layout is a column assignment that passed the uniqueness rules.
type Layout struct {
	Accession    model.Column
	Peptide      *model.Column
	Sites        *model.Column
	Modification *model.Column
	Run          *model.Column
	Data         []model.Column
	Stddev       []model.Column
}

// SiteType returns "peptide" or "sites" depending on the assigned column.
func (l *Layout) SiteType() model.ColumnType {
	if l.Peptide != nil {
		return model.ColumnPeptide
	}
	return model.ColumnSites
}

// SiteColumn returns the peptide or sites column.
func (l *Layout) SiteColumn() model.Column {
	if l.Peptide != nil {
		return *l.Peptide
	}
	return *l.Sites
}

// CheckColumns enforces the column uniqueness rules: exactly one accession
// column, exactly one of peptide or sites, at most one modification column
// (required unless nullMods) and at most one run column.
func CheckColumns(cols []model.Column, nullMods bool) (*Layout, []ParseError) {
	var errs []ParseError
	layout := &Layout{}

	if acc, err := unique(cols, model.ColumnAccession, true); err != nil {
		errs = append(errs, *err)
	} else if acc != nil {
		layout.Accession = *acc
	}

	if site, tp, err := exactlyOne(cols, model.ColumnPeptide, model.ColumnSites); err != nil {
		errs = append(errs, *err)
	} else if tp == model.ColumnPeptide {
		layout.Peptide = site
	} else {
		layout.Sites = site
	}

	if mod, err := unique(cols, model.ColumnModification, !nullMods); err != nil {
		errs = append(errs, *err)
	} else if !nullMods {
		layout.Modification = mod
	}

	if run, err := unique(cols, model.ColumnRun, false); err != nil {
		errs = append(errs, *err)
	} else {
		layout.Run = run
	}

	if len(errs) > 0 {
		return nil, errs
	}
	layout.Data = model.ColumnsOfType(cols, model.ColumnData)
	layout.Stddev = model.ColumnsOfType(cols, model.ColumnStddev)
	return layout, nil
}

func unique(cols []model.Column, tp model.ColumnType, required bool) (*model.Column, *ParseError) {
	matches := model.ColumnsOfType(cols, tp)
	if required && len(matches) == 0 {
		err := columnError("Error: Column assignment for '%s' not found", tp)
		return nil, &err
	}
	if len(matches) > 1 {
		err := columnError("Error: At most one column of type '%s' can exist in your data", tp)
		return nil, &err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	c := matches[0]
	return &c, nil
}

func exactlyOne(cols []model.Column, types ...model.ColumnType) (*model.Column, model.ColumnType, *ParseError) {
	var found *model.Column
	var foundType model.ColumnType
	for _, tp := range types {
		matches := model.ColumnsOfType(cols, tp)
		switch {
		case len(matches) > 1:
			err := columnError("Error: At most one column of type '%s' can exist in your data", tp)
			return nil, "", &err
		case len(matches) == 1 && found != nil:
			err := columnError("Error: You must have at most one column from the following: %s", joinTypes(types))
			return nil, "", &err
		case len(matches) == 1:
			c := matches[0]
			found, foundType = &c, tp
		}
	}
	if found == nil {
		err := columnError("Error: You must have exactly one column from the following: %s", joinTypes(types))
		return nil, "", &err
	}
	return found, foundType, nil
}

func joinTypes(types []model.ColumnType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// CheckAssignments validates the column types and labels an uploader
// submitted. Labels are kept only on data and stddev columns. Every problem
// found here is critical.
func CheckAssignments(cols []model.Column) ([]model.Column, []ParseError) {
	var errs []ParseError
	out := make([]model.Column, len(cols))
	dataLabels := map[string]bool{}
	stddevLabels := map[string]bool{}
	var stddevCols []model.Column

	for i, c := range cols {
		c.Number = i
		c.Label = strings.TrimSpace(c.Label)
		if c.Type == "" || !c.Type.Valid() {
			errs = append(errs, columnError("Error: Column type for column number %d was not defined", i+1))
		}
		if c.Label == "" && (c.Type == model.ColumnData || c.Type == model.ColumnStddev) {
			errs = append(errs, columnError("Error: Label required for column number %d", i+1))
		}
		if c.Label != "" {
			switch c.Type {
			case model.ColumnData:
				if dataLabels[c.Label] {
					errs = append(errs, columnError("Error: Label for data or stddev column %d is duplicated across multiple columns", i+1))
				}
				dataLabels[c.Label] = true
			case model.ColumnStddev:
				if stddevLabels[c.Label] {
					errs = append(errs, columnError("Error: Label for data or stddev column %d is duplicated across multiple columns", i+1))
				}
				stddevLabels[c.Label] = true
				stddevCols = append(stddevCols, c)
			default:
				c.Label = ""
			}
		}
		out[i] = c
	}
	for _, c := range stddevCols {
		if !dataLabels[c.Label] {
			errs = append(errs, columnError("Standard deviation column number %d with label '%s' does not match any column label in data columns", c.Number+1, c.Label))
		}
	}
	return out, errs
}
