package pipeline

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/ptmscout/internal/accession"
	"github.com/dharsanguruparan/ptmscout/internal/datafile"
	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/ptm"
)

// peptides stores a measured peptide for every measurement whose protein was
// loaded. Rows that cannot be placed on their protein are reported on each
// of their run lines.
func (p *Pipeline) peptides(ctx context.Context, job *model.Job, st *State) error {
	s, err := p.store.GetSession(ctx, st.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	headers := datafile.SeriesHeaders(s.Columns)

	pr, err := p.stage(ctx, job, StagePeptides, len(st.Measurements), peptideNotify)
	if err != nil {
		return err
	}
	proteins := map[string]*model.Protein{}
	for _, m := range st.Measurements {
		id, ok := st.ProteinIDs[m.Key.Accession]
		if ok {
			prot, cached := proteins[id]
			if !cached {
				if prot, err = p.store.GetProtein(ctx, id); err != nil {
					return fmt.Errorf("load protein %s: %w", id, err)
				}
				proteins[id] = prot
			}
			ms, err := p.measure(ctx, st, m, prot, headers, s.Units)
			if err == nil {
				err = p.store.SaveMeasuredPeptide(ctx, ms)
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				lines := make([]int, len(m.Runs))
				for i, r := range m.Runs {
					lines[i] = r.Line
				}
				if err := p.lineErrors(ctx, st.ExperimentID, m.Key.Accession, m.Key.Site, lines, err.Error()); err != nil {
					return err
				}
			}
		}
		if err := pr.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) measure(ctx context.Context, st *State, m Measurement, prot *model.Protein, headers []datafile.SeriesHeader, units string) (*model.MeasuredPeptide, error) {
	var taxons []string
	if rec, ok := st.Records[m.Key.Accession]; ok {
		taxons = rec.Taxonomy
	}

	var (
		pep    string
		offset int
		mods   []*ptm.PTM
		err    error
	)
	if st.SiteType == model.ColumnSites {
		var sites []accession.Site
		if st.NullModifications {
			sites, err = accession.ParseSites(m.Key.Site)
		} else {
			sites, mods, err = p.mods.ResolveSites(m.Key.Site, m.Key.Modification, taxons)
		}
		if err != nil {
			return nil, err
		}
		if pep, err = datafile.PeptideFromSites(prot.Sequence, sites); err != nil {
			return nil, err
		}
	} else {
		pep = m.Key.Site
		if offset, err = datafile.LocatePeptide(prot.Sequence, pep); err != nil {
			return nil, err
		}
		if !st.NullModifications {
			if _, mods, err = p.mods.ResolvePeptide(pep, m.Key.Modification, taxons); err != nil {
				return nil, err
			}
		}
	}

	ms := &model.MeasuredPeptide{
		ExperimentID:   st.ExperimentID,
		ProteinID:      prot.ID,
		QueryAccession: m.Key.Accession,
		Peptide:        m.Key.Site,
	}
	for i, site := range datafile.AlignPeptides(datafile.ModifiedIndexes(pep), offset, pep, prot.Sequence) {
		stored, _, err := p.store.GetOrCreatePeptide(ctx, &model.Peptide{
			ProteinID: prot.ID,
			SitePos:   site.Position,
			SiteType:  site.Residue,
			Aligned:   site.Aligned,
		})
		if err != nil {
			return nil, fmt.Errorf("store peptide %s%d: %w", site.Residue, site.Position, err)
		}
		mp := model.ModifiedPeptide{Peptide: *stored}
		if i < len(mods) {
			mp.ModificationID = mods[i].ID
			mp.Modification = mods[i].Name
		}
		ms.Peptides = append(ms.Peptides, mp)
	}
	for _, run := range m.Runs {
		for i, h := range headers {
			d := model.ExperimentData{
				Run:      run.Name,
				Priority: i + 1,
				Type:     string(h.Type),
				Units:    units,
				Label:    h.Label,
			}
			if i < len(run.Series) {
				d.Value = run.Series[i]
			}
			ms.Data = append(ms.Data, d)
		}
	}
	return ms, nil
}
