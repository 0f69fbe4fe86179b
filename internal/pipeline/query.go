package pipeline

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/processing"
	"github.com/dharsanguruparan/ptmscout/internal/protein"
)

const notFoundMessage = "Warning: Protein accession '%s' was not found in any external databases queried by ProteomeScout"

// query resolves every accession against NCBI and UniProt. Accessions no
// database knows are reported on each of their lines and dropped.
func (p *Pipeline) query(ctx context.Context, job *model.Job, st *State) error {
	accs := st.AccessionList()
	batches := protein.Plan(accs)
	pr, err := p.stage(ctx, job, StageQuery, batches.Len(), 1)
	if err != nil {
		return err
	}

	found := make([]map[string]*protein.Record, batches.Len())
	var tasks []processing.Task
	add := func(source string, f protein.Fetcher, chunks [][]string) {
		for _, chunk := range chunks {
			i, chunk := len(tasks), chunk
			tasks = append(tasks, processing.Task{
				Key: fmt.Sprintf("%s[%d]", source, i),
				Run: func(ctx context.Context) error {
					if f == nil {
						return nil
					}
					got, err := f.Fetch(ctx, chunk)
					if err != nil {
						return fmt.Errorf("%s lookup: %w", source, err)
					}
					found[i] = got
					return nil
				},
			})
		}
	}
	add("ncbi", p.sources.NCBI, batches.NCBI)
	add("uniprot", p.sources.UniProt, batches.UniProt)

	var failed error
	err = p.pool.Run(ctx, tasks, func(r processing.Result) {
		if failed != nil {
			return
		}
		if r.Err != nil {
			failed = r.Err
			return
		}
		failed = pr.step(ctx)
	})
	if err != nil {
		return err
	}
	if failed != nil {
		return failed
	}

	st.Records = map[string]*protein.Record{}
	for _, got := range found {
		for acc, rec := range got {
			st.Records[acc] = rec
		}
	}
	missing := 0
	for _, acc := range accs {
		if _, ok := st.Records[acc]; ok {
			continue
		}
		missing++
		if err := p.lineErrors(ctx, st.ExperimentID, acc, "", st.Accessions[acc], fmt.Sprintf(notFoundMessage, acc)); err != nil {
			return err
		}
	}
	p.log.Info().Str("job_id", job.ID).Int("found", len(st.Records)).Int("missing", missing).Msg("accessions resolved")
	return nil
}
