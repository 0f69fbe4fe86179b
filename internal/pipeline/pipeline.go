// Package pipeline imports a confirmed upload into an experiment. The import
// is a chain of stages (query, proteins, GO terms, peptides, annotate,
// finalize), each run as its own queued task. A stage stores its output
// before the next stage is dispatched, and a failed stage ends the chain.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ptmscout/internal/datafile"
	"github.com/dharsanguruparan/ptmscout/internal/jobs"
	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/notify"
	"github.com/dharsanguruparan/ptmscout/internal/processing"
	"github.com/dharsanguruparan/ptmscout/internal/protein"
	"github.com/dharsanguruparan/ptmscout/internal/validate"
)

// ErrUnknownStage is returned for a stage name outside the chain.
var ErrUnknownStage = errors.New("unknown import stage")

// ErrNoStageInput is returned by Blobs when a stage has no stored input.
var ErrNoStageInput = errors.New("no stage input")

// Store is the persistence the import needs.
type Store interface {
	GetSession(ctx context.Context, id string) (*model.UploadSession, error)
	GetExperiment(ctx context.Context, id string) (*model.Experiment, error)

	ClearExperimentErrors(ctx context.Context, expID string) error
	AddExperimentErrors(ctx context.Context, errs []model.ExperimentError) error
	ListExperimentErrors(ctx context.Context, expID string) ([]model.ExperimentError, error)

	FindProteinBySequence(ctx context.Context, sequence, species string) (*model.Protein, error)
	GetProtein(ctx context.Context, id string) (*model.Protein, error)
	SaveProtein(ctx context.Context, p *model.Protein) error

	GetOrCreatePeptide(ctx context.Context, p *model.Peptide) (*model.Peptide, bool, error)
	SaveMeasuredPeptide(ctx context.Context, ms *model.MeasuredPeptide) error
	ListMeasuredPeptides(ctx context.Context, expID string) ([]*model.MeasuredPeptide, error)
	ListMeasuredPeptidesByProtein(ctx context.Context, proteinID string) ([]*model.MeasuredPeptide, error)
	SaveAnnotations(ctx context.Context, expID string, rows []model.Annotation) error
}

// Blobs holds the uploaded data files and the stage hand-off objects.
type Blobs interface {
	GetDataFile(ctx context.Context, key string) (io.ReadCloser, error)
	PutStageInput(ctx context.Context, expID, stage string, data []byte) error
	GetStageInput(ctx context.Context, expID, stage string) ([]byte, error)
}

// Dispatcher queues the task that runs one stage.
type Dispatcher interface {
	Dispatch(ctx context.Context, stage string, p Payload) error
}

// Notifier tells users how their import ended.
type Notifier interface {
	JobFailed(ctx context.Context, job *model.Job, cause error)
	ImportFinished(ctx context.Context, job *model.Job, exp *model.Experiment, counts notify.ImportCounts)
}

// DomainSource returns the filtered PFam domains of a UniProt protein.
type DomainSource interface {
	ProteinDomains(ctx context.Context, acc string) ([]model.Domain, error)
}

// Sources are the external databases proteins are resolved against. Any of
// them may be nil.
type Sources struct {
	UniProt protein.Fetcher
	NCBI    protein.Fetcher
	Domains DomainSource
}

// Pipeline runs the import stages.
type Pipeline struct {
	store    Store
	blobs    Blobs
	mods     validate.Resolver
	jobs     *jobs.Tracker
	dispatch Dispatcher
	notify   Notifier
	sources  Sources
	pool     *processing.Pool
	log      zerolog.Logger
}

// New constructs a Pipeline.
func New(store Store, blobs Blobs, mods validate.Resolver, tracker *jobs.Tracker, dispatch Dispatcher, notifier Notifier, sources Sources, pool *processing.Pool, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		blobs:    blobs,
		mods:     mods,
		jobs:     tracker,
		dispatch: dispatch,
		notify:   notifier,
		sources:  sources,
		pool:     pool,
		log:      log,
	}
}

// Start parses the session's data file and dispatches the first stage still
// to run. A job that never ran, or that did not fail, gets its experiment
// errors replaced by the ones found now. A failed job restarted mid chain
// keeps the errors recorded by the stages it already completed.
func (p *Pipeline) Start(ctx context.Context, pl Payload) error {
	job, err := p.jobs.Get(ctx, pl.JobID)
	if err != nil {
		return err
	}
	s, err := p.store.GetSession(ctx, pl.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	nullMods := s.ResourceType == model.ResourceDataset

	parsed, err := p.parse(ctx, s, nullMods)
	if err != nil {
		return p.fail(ctx, job.ID, StageQuery, err)
	}

	chain := ChainFrom(job.Stage)
	fresh := chain[0] == StageQuery
	if !fresh {
		if _, err := p.blobs.GetStageInput(ctx, pl.ExperimentID, chain[0]); err != nil {
			p.log.Warn().Str("job_id", job.ID).Str("stage", chain[0]).Err(err).Msg("stage input missing, restarting import from the beginning")
			chain, fresh = Stages, true
		}
	}
	if fresh {
		if err := p.reportParseErrors(ctx, pl.ExperimentID, parsed); err != nil {
			return p.fail(ctx, job.ID, StageQuery, err)
		}
	}

	if err := p.jobs.SetStatus(ctx, job.ID, model.JobStarted); err != nil {
		return err
	}

	first := chain[0]
	if len(parsed.Accessions) == 0 {
		first = StageFinalize
	}
	if fresh || first == StageFinalize {
		if err := p.putState(ctx, first, newState(pl, nullMods, parsed)); err != nil {
			return p.fail(ctx, job.ID, first, err)
		}
	}
	p.log.Info().Str("job_id", job.ID).Str("experiment_id", pl.ExperimentID).Str("stage", first).Int("accessions", len(parsed.Accessions)).Msg("import started")
	return p.dispatch.Dispatch(ctx, first, pl)
}

func (p *Pipeline) parse(ctx context.Context, s *model.UploadSession, nullMods bool) (*datafile.Parsed, error) {
	rc, err := p.blobs.GetDataFile(ctx, s.DataFile)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer rc.Close()
	t, err := datafile.Open(s.DataFile, rc, -1)
	if err != nil {
		return nil, err
	}
	return datafile.Parse(s.Columns, t.Rows, p.mods, validate.Options{NullModifications: nullMods})
}

func (p *Pipeline) reportParseErrors(ctx context.Context, expID string, parsed *datafile.Parsed) error {
	if err := p.store.ClearExperimentErrors(ctx, expID); err != nil {
		return fmt.Errorf("clear experiment errors: %w", err)
	}
	if len(parsed.Errors) == 0 {
		return nil
	}
	out := make([]model.ExperimentError, 0, len(parsed.Errors))
	for _, e := range parsed.Errors {
		key := parsed.LineMapping[e.Line]
		out = append(out, model.ExperimentError{
			ExperimentID: expID,
			Line:         e.Line,
			Accession:    key.Accession,
			Peptide:      key.Site,
			Message:      e.Message,
		})
	}
	if err := p.store.AddExperimentErrors(ctx, out); err != nil {
		return fmt.Errorf("record experiment errors: %w", err)
	}
	return nil
}

// Run executes one stage. On success the resulting state is stored for the
// next stage, which is then dispatched. On failure the job is marked failed,
// the submitter is notified and the returned error tells the queue not to
// retry.
func (p *Pipeline) Run(ctx context.Context, stage string, pl Payload) error {
	if !Valid(stage) {
		return fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	job, err := p.jobs.Get(ctx, pl.JobID)
	if err != nil {
		return err
	}
	if job.Status == model.JobError {
		p.log.Warn().Str("job_id", job.ID).Str("stage", stage).Msg("job already failed, skipping stage")
		return nil
	}

	st, err := p.getState(ctx, pl.ExperimentID, stage)
	if err != nil {
		return p.fail(ctx, job.ID, stage, err)
	}
	st.Payload = pl

	started := time.Now()
	if err := p.runStage(ctx, stage, job, st); err != nil {
		return p.fail(ctx, job.ID, stage, err)
	}
	p.log.Info().Str("job_id", job.ID).Str("stage", stage).Dur("took", time.Since(started)).Msg("stage finished")

	next, ok := Next(stage)
	if !ok {
		return nil
	}
	if err := p.putState(ctx, next, st); err != nil {
		return p.fail(ctx, job.ID, stage, err)
	}
	if err := p.dispatch.Dispatch(ctx, next, pl); err != nil {
		return p.fail(ctx, job.ID, stage, err)
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, stage string, job *model.Job, st *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &jobs.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	switch stage {
	case StageQuery:
		return p.query(ctx, job, st)
	case StageProteins:
		return p.proteins(ctx, job, st)
	case StageGOTerms:
		return p.goTerms(ctx, job, st)
	case StagePeptides:
		return p.peptides(ctx, job, st)
	case StageAnnotate:
		return p.annotate(ctx, job, st)
	default:
		return p.finalize(ctx, job, st)
	}
}

func (p *Pipeline) fail(ctx context.Context, jobID, stage string, cause error) error {
	p.log.Error().Str("job_id", jobID).Str("stage", stage).Err(cause).Msg("import failed")
	job, err := p.jobs.Fail(ctx, jobID, jobs.FailureReason(cause))
	if err != nil {
		p.log.Error().Str("job_id", jobID).Err(err).Msg("record job failure")
	} else if p.notify != nil {
		p.notify.JobFailed(ctx, job, cause)
	}
	return fmt.Errorf("stage %s: %v: %w", stage, cause, asynq.SkipRetry)
}

func (p *Pipeline) putState(ctx context.Context, stage string, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode %s input: %w", stage, err)
	}
	if err := p.blobs.PutStageInput(ctx, st.ExperimentID, stage, data); err != nil {
		return fmt.Errorf("store %s input: %w", stage, err)
	}
	return nil
}

func (p *Pipeline) getState(ctx context.Context, expID, stage string) (*State, error) {
	data, err := p.blobs.GetStageInput(ctx, expID, stage)
	if err != nil {
		return nil, fmt.Errorf("load %s input: %w", stage, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode %s input: %w", stage, err)
	}
	return &st, nil
}

// lineErrors records one experiment error per line.
func (p *Pipeline) lineErrors(ctx context.Context, expID, acc, pep string, lines []int, msg string) error {
	if len(lines) == 0 {
		return nil
	}
	out := make([]model.ExperimentError, len(lines))
	for i, l := range lines {
		out[i] = model.ExperimentError{ExperimentID: expID, Line: l, Accession: acc, Peptide: pep, Message: msg}
	}
	if err := p.store.AddExperimentErrors(ctx, out); err != nil {
		return fmt.Errorf("record experiment errors: %w", err)
	}
	return nil
}

// progress advances the job by one unit, saving only every n units and on
// the last one.
type progress struct {
	p     *Pipeline
	jobID string
	max   int
	every int
	done  int
}

func (p *Pipeline) stage(ctx context.Context, job *model.Job, name string, max, every int) (*progress, error) {
	if err := p.jobs.SetStage(ctx, job.ID, name, max); err != nil {
		return nil, err
	}
	return &progress{p: p, jobID: job.ID, max: max, every: every}, nil
}

func (pr *progress) step(ctx context.Context) error {
	pr.done++
	if pr.done%pr.every != 0 && pr.done != pr.max {
		return nil
	}
	return pr.p.jobs.SetProgress(ctx, pr.jobID, pr.done, pr.max)
}
