package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return copies of experiments", func(t *testing.T) {
		m := NewMemoryStore()
		e := &model.Experiment{Name: "Time course", Conditions: []model.Condition{{Type: model.ConditionCell, Value: "HeLa"}}}
		require.NoError(t, m.CreateExperiment(ctx, e))
		require.NotEmpty(t, e.ID)

		got, err := m.GetExperiment(ctx, e.ID)
		require.NoError(t, err)
		got.Conditions[0].Value = "changed"
		again, err := m.GetExperiment(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, "HeLa", again.Conditions[0].Value)

		_, err = m.FindExperimentByJob(ctx, "job-1")
		assert.ErrorIs(t, err, ErrNotFound)
		jobID := "job-1"
		got.JobID = &jobID
		require.NoError(t, m.UpdateExperiment(ctx, got))
		byJob, err := m.FindExperimentByJob(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, e.ID, byJob.ID)
	})

	t.Run("Should key peptides by protein, position and residue", func(t *testing.T) {
		m := NewMemoryStore()
		first, created, err := m.GetOrCreatePeptide(ctx, &model.Peptide{ProteinID: "p1", SitePos: 8, SiteType: "S", Aligned: "MKAAPEPsTIDEGGK"})
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := m.GetOrCreatePeptide(ctx, &model.Peptide{ProteinID: "p1", SitePos: 8, SiteType: "S"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "MKAAPEPsTIDEGGK", second.Aligned)
	})

	t.Run("Should upsert measured peptides in insert order", func(t *testing.T) {
		m := NewMemoryStore()
		a := &model.MeasuredPeptide{ExperimentID: "e1", ProteinID: "p1", Peptide: "PEPsTIDE"}
		b := &model.MeasuredPeptide{ExperimentID: "e1", ProteinID: "p2", Peptide: "KLLsK"}
		require.NoError(t, m.SaveMeasuredPeptide(ctx, a))
		require.NoError(t, m.SaveMeasuredPeptide(ctx, b))

		again := &model.MeasuredPeptide{ExperimentID: "e1", ProteinID: "p1", Peptide: "PEPsTIDE", QueryAccession: "P12345"}
		require.NoError(t, m.SaveMeasuredPeptide(ctx, again))
		assert.Equal(t, a.ID, again.ID)

		list, err := m.ListMeasuredPeptides(ctx, "e1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "P12345", list[0].QueryAccession)
		assert.Equal(t, "p2", list[1].ProteinID)

		byProtein, err := m.ListMeasuredPeptidesByProtein(ctx, "p2")
		require.NoError(t, err)
		assert.Len(t, byProtein, 1)
	})

	t.Run("Should keep measurements with different modifications apart", func(t *testing.T) {
		m := NewMemoryStore()
		phospho := &model.MeasuredPeptide{ExperimentID: "e1", ProteinID: "p1", Peptide: "PEPsTIDE",
			Peptides: []model.ModifiedPeptide{{ModificationID: "2"}}}
		glcnac := &model.MeasuredPeptide{ExperimentID: "e1", ProteinID: "p1", Peptide: "PEPsTIDE",
			Peptides: []model.ModifiedPeptide{{ModificationID: "3"}}}
		require.NoError(t, m.SaveMeasuredPeptide(ctx, phospho))
		require.NoError(t, m.SaveMeasuredPeptide(ctx, glcnac))
		assert.NotEqual(t, phospho.ID, glcnac.ID)

		list, err := m.ListMeasuredPeptides(ctx, "e1")
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("Should number experiment errors", func(t *testing.T) {
		m := NewMemoryStore()
		require.NoError(t, m.AddExperimentErrors(ctx, []model.ExperimentError{
			{ExperimentID: "e1", Line: 2, Message: "a"},
			{ExperimentID: "e1", Line: 5, Message: "b"},
		}))
		errs, err := m.ListExperimentErrors(ctx, "e1")
		require.NoError(t, err)
		require.Len(t, errs, 2)
		assert.NotEqual(t, errs[0].ID, errs[1].ID)

		require.NoError(t, m.ClearExperimentErrors(ctx, "e1"))
		errs, err = m.ListExperimentErrors(ctx, "e1")
		require.NoError(t, err)
		assert.Empty(t, errs)
	})
}
