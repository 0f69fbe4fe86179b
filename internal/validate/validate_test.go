package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/ptm"
)

func registry(t *testing.T) *ptm.Registry {
	t.Helper()
	reg, err := ptm.NewRegistry([]ptm.PTM{
		{ID: "1", Name: "Phosphorylation", Keywords: []string{"Phospho"}},
		{ID: "2", Name: "Phosphoserine", Target: "S", ParentID: "1", Keywords: []string{"Phospho"}},
		{ID: "3", Name: "Phosphothreonine", Target: "T", ParentID: "1", Keywords: []string{"Phospho"}},
		{ID: "4", Name: "Phosphotyrosine", Target: "Y", ParentID: "1", Keywords: []string{"Phospho"}},
		{ID: "5", Name: "Acetyl-a", Target: "K"},
		{ID: "6", Name: "Acetyl-a", Target: "K"},
	})
	require.NoError(t, err)
	return reg
}

func cols(types ...model.ColumnType) []model.Column {
	out := make([]model.Column, len(types))
	for i, tp := range types {
		out[i] = model.Column{Type: tp, Number: i}
	}
	return out
}

func TestParseErrorFormat(t *testing.T) {
	assert.Equal(t, "Line 3, Column 1: bad", ParseError{Line: 3, Column: 1, Message: "bad"}.Error())
	assert.Equal(t, "Line 3: bad", ParseError{Line: 3, Message: "bad"}.Error())
	assert.Equal(t, "bad", ParseError{Message: "bad"}.Error())
}

func TestResultBlocks(t *testing.T) {
	assert.False(t, Result{}.Blocks(false))
	assert.True(t, Result{Errors: []ParseError{{}}}.Blocks(false))
	assert.False(t, Result{Errors: []ParseError{{}}}.Blocks(true))
	assert.True(t, Result{Errors: []ParseError{{}}, Critical: true}.Blocks(true))
}

func TestCheckColumns(t *testing.T) {
	tests := []struct {
		name     string
		cols     []model.Column
		nullMods bool
		messages []string
	}{
		{
			name: "valid peptide layout",
			cols: cols(model.ColumnAccession, model.ColumnPeptide, model.ColumnModification, model.ColumnRun, model.ColumnData),
		},
		{
			name:     "null modification mode",
			cols:     cols(model.ColumnAccession, model.ColumnSites),
			nullMods: true,
		},
		{
			name:     "missing accession",
			cols:     cols(model.ColumnPeptide, model.ColumnModification),
			messages: []string{"Error: Column assignment for 'accession' not found"},
		},
		{
			name:     "two accessions",
			cols:     cols(model.ColumnAccession, model.ColumnAccession, model.ColumnPeptide, model.ColumnModification),
			messages: []string{"Error: At most one column of type 'accession' can exist in your data"},
		},
		{
			name:     "peptide and sites",
			cols:     cols(model.ColumnAccession, model.ColumnPeptide, model.ColumnSites, model.ColumnModification),
			messages: []string{"Error: You must have at most one column from the following: peptide, sites"},
		},
		{
			name:     "neither peptide nor sites",
			cols:     cols(model.ColumnAccession, model.ColumnModification),
			messages: []string{"Error: You must have exactly one column from the following: peptide, sites"},
		},
		{
			name:     "two peptide columns",
			cols:     cols(model.ColumnAccession, model.ColumnPeptide, model.ColumnPeptide, model.ColumnModification),
			messages: []string{"Error: At most one column of type 'peptide' can exist in your data"},
		},
		{
			name:     "modification required",
			cols:     cols(model.ColumnAccession, model.ColumnPeptide),
			messages: []string{"Error: Column assignment for 'modification' not found"},
		},
		{
			name: "two runs and two modifications",
			cols: cols(model.ColumnAccession, model.ColumnPeptide, model.ColumnModification, model.ColumnModification, model.ColumnRun, model.ColumnRun),
			messages: []string{
				"Error: At most one column of type 'modification' can exist in your data",
				"Error: At most one column of type 'run' can exist in your data",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, errs := CheckColumns(tt.cols, tt.nullMods)
			if len(tt.messages) == 0 {
				require.Empty(t, errs)
				require.NotNil(t, layout)
				return
			}
			assert.Nil(t, layout)
			var got []string
			for _, e := range errs {
				assert.Equal(t, KindColumn, e.Kind)
				got = append(got, e.Message)
			}
			assert.Equal(t, tt.messages, got)
		})
	}
}

func TestCheckAssignments(t *testing.T) {
	t.Run("Should accept matching data and stddev labels", func(t *testing.T) {
		in := []model.Column{
			{Type: model.ColumnAccession, Label: "ignored"},
			{Type: model.ColumnData, Label: " t1 "},
			{Type: model.ColumnStddev, Label: "t1"},
		}
		out, errs := CheckAssignments(in)
		assert.Empty(t, errs)
		assert.Equal(t, "", out[0].Label)
		assert.Equal(t, "t1", out[1].Label)
		assert.Equal(t, 2, out[2].Number)
	})

	t.Run("Should report every label problem", func(t *testing.T) {
		in := []model.Column{
			{Type: ""},
			{Type: model.ColumnData},
			{Type: model.ColumnData, Label: "a"},
			{Type: model.ColumnData, Label: "a"},
			{Type: model.ColumnStddev, Label: "b"},
		}
		_, errs := CheckAssignments(in)
		var got []string
		for _, e := range errs {
			got = append(got, e.Message)
		}
		assert.Equal(t, []string{
			"Error: Column type for column number 1 was not defined",
			"Error: Label required for column number 2",
			"Error: Label for data or stddev column 4 is duplicated across multiple columns",
			"Standard deviation column number 5 with label 'b' does not match any column label in data columns",
		}, got)
	})
}

func TestCheck(t *testing.T) {
	reg := registry(t)
	pepLayout := []model.Column{
		{Type: model.ColumnAccession, Number: 0},
		{Type: model.ColumnPeptide, Number: 1},
		{Type: model.ColumnModification, Number: 2},
		{Type: model.ColumnData, Label: "run1", Number: 3},
	}

	t.Run("Should pass clean rows", func(t *testing.T) {
		rows := [][]string{
			{"P12345", "PEPsTIDE", "Phospho", "1.5"},
			{"NP_001234", "PEPTyDE", "Phospho", "2"},
		}
		res := Check(pepLayout, rows, reg, Options{})
		assert.True(t, res.OK(), res.String())
	})

	t.Run("Should flag an unrecognized accession type once", func(t *testing.T) {
		rows := [][]string{{"INVALIDACC!", "PEPsTIDE", "Phospho", "1.5"}}
		res := Check(pepLayout, rows, reg, Options{})
		require.Len(t, res.Errors, 1)
		assert.False(t, res.Critical)
		assert.Equal(t, KindBadAccession, res.Errors[0].Kind)
		assert.Contains(t, res.Errors[0].Message, "unrecognized accession type")
		assert.Equal(t, 1, res.Errors[0].Column)
	})

	t.Run("Should flag a duplicate without run column on the second row", func(t *testing.T) {
		siteLayout := cols(model.ColumnAccession, model.ColumnSites, model.ColumnModification)
		rows := [][]string{
			{"P12345", "S10", "Phospho"},
			{"P12345", " S10", "Phospho"},
		}
		res := Check(siteLayout, rows, reg, Options{})
		require.Len(t, res.Errors, 1)
		assert.Equal(t, KindDuplicateNoRun, res.Errors[0].Kind)
		assert.Equal(t, 2, res.Errors[0].Line)
	})

	t.Run("Should flag a full duplicate with a run column", func(t *testing.T) {
		runLayout := cols(model.ColumnAccession, model.ColumnSites, model.ColumnModification, model.ColumnRun)
		rows := [][]string{
			{"P12345", "S10", "Phospho", "a"},
			{"P12345", "S10", "Phospho", "b"},
			{"P12345", "S10", "Phospho", "a"},
		}
		res := Check(runLayout, rows, reg, Options{})
		require.Len(t, res.Errors, 1)
		assert.Equal(t, KindDuplicateRun, res.Errors[0].Kind)
		assert.Equal(t, 3, res.Errors[0].Line)
	})

	t.Run("Should collect row problems without stopping", func(t *testing.T) {
		rows := [][]string{
			{"P12345", "PEP*TIDE", "Phospho", "1"},
			{"P12345", "PEPkTIDE", "Acetyl-a", "1"},
			{"P12345", "PEPsTIDEs", "Phospho", "x"},
			{"P12345", "PEPs"},
		}
		res := Check(pepLayout, rows, reg, Options{})
		var kinds []Kind
		for _, e := range res.Errors {
			kinds = append(kinds, e.Kind)
		}
		assert.Equal(t, []Kind{KindBadPeptide, KindModification, KindAmbiguous, KindDataMissing, KindMissingColumn}, kinds)
		assert.False(t, res.Critical)
	})

	t.Run("Should report bad site lists", func(t *testing.T) {
		siteLayout := cols(model.ColumnAccession, model.ColumnSites, model.ColumnModification)
		res := Check(siteLayout, [][]string{{"P12345", "S1x", "Phospho"}}, reg, Options{})
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "Line 1: Invalid formatting for sites: S1x", res.Errors[0].Error())
	})

	t.Run("Should respect the row limit", func(t *testing.T) {
		rows := [][]string{
			{"P12345", "PEPsTIDE", "Phospho", "1"},
			{"bad!", "PEPsTIDE", "Phospho", "1"},
		}
		assert.True(t, Check(pepLayout, rows, reg, Options{Limit: 1}).OK())
		assert.False(t, Check(pepLayout, rows, reg, Options{}).OK())
	})

	t.Run("Should skip modification checks in null modification mode", func(t *testing.T) {
		layout := cols(model.ColumnAccession, model.ColumnPeptide)
		res := Check(layout, [][]string{{"P12345", "PEPTIDE"}}, reg, Options{NullModifications: true})
		assert.True(t, res.OK(), res.String())
	})

	t.Run("Should stop at column errors", func(t *testing.T) {
		res := Check(cols(model.ColumnPeptide), [][]string{{"bad!"}}, reg, Options{})
		assert.True(t, res.Critical)
		assert.True(t, res.Blocks(true))
	})
}
