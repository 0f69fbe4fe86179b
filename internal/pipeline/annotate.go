package pipeline

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/ptmscout/internal/annotate"
	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/notify"
)

// annotate derives the summary columns of every measured peptide of the
// experiment.
func (p *Pipeline) annotate(ctx context.Context, job *model.Job, st *State) error {
	measured, err := p.store.ListMeasuredPeptides(ctx, st.ExperimentID)
	if err != nil {
		return fmt.Errorf("list measured peptides: %w", err)
	}
	pr, err := p.stage(ctx, job, StageAnnotate, len(measured), annotateNotify)
	if err != nil {
		return err
	}

	proteins := map[string]*model.Protein{}
	siblings := map[string][]*model.MeasuredPeptide{}
	rows := make([]model.Annotation, 0, len(measured))
	for _, ms := range measured {
		prot, ok := proteins[ms.ProteinID]
		if !ok {
			if prot, err = p.store.GetProtein(ctx, ms.ProteinID); err != nil {
				return fmt.Errorf("load protein %s: %w", ms.ProteinID, err)
			}
			proteins[ms.ProteinID] = prot
			if siblings[ms.ProteinID], err = p.store.ListMeasuredPeptidesByProtein(ctx, ms.ProteinID); err != nil {
				return fmt.Errorf("list measured peptides of %s: %w", ms.ProteinID, err)
			}
		}
		rows = append(rows, model.Annotation{
			MeasuredPeptideID: ms.ID,
			Values:            annotate.Measurement(ms, prot, siblings[ms.ProteinID]),
		})
		if err := pr.step(ctx); err != nil {
			return err
		}
	}
	if err := p.store.SaveAnnotations(ctx, st.ExperimentID, rows); err != nil {
		return fmt.Errorf("save annotations: %w", err)
	}
	return nil
}

// finalize finishes the job and mails the submitter a summary.
func (p *Pipeline) finalize(ctx context.Context, job *model.Job, st *State) error {
	if err := p.jobs.SetStage(ctx, job.ID, StageFinalize, 0); err != nil {
		return err
	}
	exp, err := p.store.GetExperiment(ctx, st.ExperimentID)
	if err != nil {
		return fmt.Errorf("load experiment: %w", err)
	}
	counts, err := p.Counts(ctx, st.ExperimentID)
	if err != nil {
		return err
	}
	finished, err := p.jobs.Finish(ctx, job.ID)
	if err != nil {
		return err
	}
	p.log.Info().Str("job_id", job.ID).Str("experiment_id", exp.ID).
		Int("peptides", counts.Peptides).Int("proteins", counts.Proteins).Int("errors", counts.Errors).
		Msg("import finished")
	if p.notify != nil {
		p.notify.ImportFinished(ctx, finished, exp, counts)
	}
	return nil
}

// Counts summarizes what an import stored for an experiment.
func (p *Pipeline) Counts(ctx context.Context, expID string) (notify.ImportCounts, error) {
	measured, err := p.store.ListMeasuredPeptides(ctx, expID)
	if err != nil {
		return notify.ImportCounts{}, fmt.Errorf("list measured peptides: %w", err)
	}
	errs, err := p.store.ListExperimentErrors(ctx, expID)
	if err != nil {
		return notify.ImportCounts{}, fmt.Errorf("list experiment errors: %w", err)
	}
	proteins := map[string]bool{}
	for _, ms := range measured {
		proteins[ms.ProteinID] = true
	}
	return notify.ImportCounts{Peptides: len(measured), Proteins: len(proteins), Errors: len(errs)}, nil
}
