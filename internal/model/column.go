// Package model contains the plain structs shared by the upload wizard, the
// repository layer and the annotation worker. Types declared via
// "type X string" keep the persisted vocabularies strongly typed.
package model

// ColumnType is the semantic role assigned to one column of an uploaded file.
type ColumnType string

const (
	ColumnHidden       ColumnType = "hidden"
	ColumnData         ColumnType = "data"
	ColumnStddev       ColumnType = "stddev"
	ColumnAccession    ColumnType = "accession"
	ColumnPeptide      ColumnType = "peptide"
	ColumnSites        ColumnType = "sites"
	ColumnSpecies      ColumnType = "species"
	ColumnModification ColumnType = "modification"
	ColumnRun          ColumnType = "run"
	ColumnNone         ColumnType = "none"
	ColumnNumeric      ColumnType = "numeric"
	ColumnNominative   ColumnType = "nominative"
	ColumnCluster      ColumnType = "cluster"
)

var columnTypes = map[ColumnType]bool{
	ColumnHidden: true, ColumnData: true, ColumnStddev: true, ColumnAccession: true,
	ColumnPeptide: true, ColumnSites: true, ColumnSpecies: true, ColumnModification: true,
	ColumnRun: true, ColumnNone: true, ColumnNumeric: true, ColumnNominative: true,
	ColumnCluster: true,
}

// Valid reports whether t belongs to the persisted column type vocabulary.
func (t ColumnType) Valid() bool {
	return columnTypes[t]
}

// Column is one physical column of an uploaded file (a session column).
// Number is the zero-based index of the column in the file.
type Column struct {
	Type   ColumnType `json:"type"`
	Label  string     `json:"label"`
	Number int        `json:"columnNumber"`
}

// ColumnsOfType returns the columns of the given type in column order.
func ColumnsOfType(cols []Column, t ColumnType) []Column {
	var out []Column
	for _, c := range cols {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}
