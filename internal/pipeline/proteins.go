package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dharsanguruparan/ptmscout/internal/accession"
	"github.com/dharsanguruparan/ptmscout/internal/annotate"
	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/protein"
)

const proteinFailedMessage = "Error: Failed to load protein record for accession '%s': %v"

// resolved returns the accessions that have a record, in file order.
func (s *State) resolved() []string {
	var out []string
	for _, acc := range s.AccessionList() {
		if _, ok := s.Records[acc]; ok {
			out = append(out, acc)
		}
	}
	return out
}

// proteins stores a local protein for every resolved accession. A protein
// already known by sequence and species only gains the new accessions.
func (p *Pipeline) proteins(ctx context.Context, job *model.Job, st *State) error {
	accs := st.resolved()
	pr, err := p.stage(ctx, job, StageProteins, len(accs), proteinNotify)
	if err != nil {
		return err
	}
	st.ProteinIDs = map[string]string{}
	for _, acc := range accs {
		id, err := p.saveProtein(ctx, acc, st.Records[acc])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn().Str("job_id", job.ID).Str("accession", acc).Err(err).Msg("protein load failed")
			if err := p.lineErrors(ctx, st.ExperimentID, acc, "", st.Accessions[acc], fmt.Sprintf(proteinFailedMessage, acc, err)); err != nil {
				return err
			}
			delete(st.Records, acc)
		} else {
			st.ProteinIDs[acc] = id
		}
		if err := pr.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) saveProtein(ctx context.Context, acc string, rec *protein.Record) (string, error) {
	if rec.Sequence == "" {
		return "", errors.New("record has no sequence")
	}
	existing, err := p.store.FindProteinBySequence(ctx, rec.Sequence, rec.Species)
	switch {
	case err == nil:
		existing.Accessions = rec.MergeAccessions(existing.Accessions)
		if existing.Gene == "" {
			existing.Gene = rec.Gene
		}
		if existing.Locus == "" {
			existing.Locus = rec.Locus
		}
		if err := p.store.SaveProtein(ctx, existing); err != nil {
			return "", err
		}
		return existing.ID, nil
	case !errors.Is(err, model.ErrNotFound):
		return "", err
	}

	prot := rec.NewProtein()
	if p.sources.Domains != nil && accession.IsUniProt(acc) {
		domains, err := p.sources.Domains.ProteinDomains(ctx, acc)
		if err != nil {
			return "", err
		}
		prot.Domains = domains
	}
	prot.Regions = append(prot.Regions, annotate.ActivationLoops(prot)...)
	if err := p.store.SaveProtein(ctx, prot); err != nil {
		return "", err
	}
	return prot.ID, nil
}

// goTerms adds the GO annotations of each record to its protein.
func (p *Pipeline) goTerms(ctx context.Context, job *model.Job, st *State) error {
	accs := st.resolved()
	pr, err := p.stage(ctx, job, StageGOTerms, len(accs), proteinNotify)
	if err != nil {
		return err
	}
	for _, acc := range accs {
		id, ok := st.ProteinIDs[acc]
		if ok && len(st.Records[acc].GOTerms) > 0 {
			prot, err := p.store.GetProtein(ctx, id)
			if err != nil {
				return fmt.Errorf("load protein %s: %w", id, err)
			}
			if merged, changed := mergeGOTerms(prot.GOTerms, st.Records[acc].GOTerms); changed {
				prot.GOTerms = merged
				if err := p.store.SaveProtein(ctx, prot); err != nil {
					return fmt.Errorf("save protein %s: %w", id, err)
				}
			}
		}
		if err := pr.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func mergeGOTerms(have, add []model.GOTerm) ([]model.GOTerm, bool) {
	seen := make(map[string]bool, len(have))
	for _, t := range have {
		seen[t.GO] = true
	}
	out := append([]model.GOTerm(nil), have...)
	for _, t := range add {
		if !seen[t.GO] {
			seen[t.GO] = true
			out = append(out, t)
		}
	}
	return out, len(out) != len(have)
}
