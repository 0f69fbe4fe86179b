// Package export writes an experiment's measured peptides to a tab
// separated file and mails the submitter a signed link to it.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ptmscout/internal/jobs"
	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/s3storage"
	"github.com/dharsanguruparan/ptmscout/internal/signing"
)

// StageExporting is the job stage while rows are written.
const StageExporting = "exporting"

const (
	notifyInterval = 5
	cellSeparator  = "; "
)

// BaseHeader opens every export file.
var BaseHeader = []string{
	"MS_id", "query_accession", "gene", "locus", "protein_name", "species",
	"peptide", "mod_sites", "gene_site", "aligned_peptides", "modification_types",
}

// Store reads what an export needs.
type Store interface {
	GetExperiment(ctx context.Context, id string) (*model.Experiment, error)
	GetProtein(ctx context.Context, id string) (*model.Protein, error)
	ListMeasuredPeptides(ctx context.Context, expID string) ([]*model.MeasuredPeptide, error)
	ListAnnotations(ctx context.Context, expID string) ([]model.Annotation, error)
}

// Results stores finished export files.
type Results interface {
	PutResult(ctx context.Context, key string, data []byte, contentType string) error
}

// Notifier tells users how their export ended.
type Notifier interface {
	JobFailed(ctx context.Context, job *model.Job, cause error)
	ExportFinished(ctx context.Context, job *model.Job, url string)
}

// Options configure an Exporter.
type Options struct {
	// DownloadURL is the endpoint serving signed export links.
	DownloadURL string
	TTL         time.Duration
}

// Request identifies one export job.
type Request struct {
	ExperimentID string
	JobID        string
	Annotate     bool
}

// Exporter runs export jobs.
type Exporter struct {
	store   Store
	results Results
	jobs    *jobs.Tracker
	signer  *signing.Signer
	notify  Notifier
	opts    Options
	log     zerolog.Logger
}

// New constructs an Exporter.
func New(store Store, results Results, tracker *jobs.Tracker, signer *signing.Signer, notifier Notifier, opts Options, log zerolog.Logger) *Exporter {
	return &Exporter{store: store, results: results, jobs: tracker, signer: signer, notify: notifier, opts: opts, log: log}
}

// Export writes the file of req and finishes its job. A failure marks the
// job failed and is not retried.
func (e *Exporter) Export(ctx context.Context, req Request) error {
	if err := e.jobs.SetStatus(ctx, req.JobID, model.JobStarted); err != nil {
		return err
	}
	url, err := e.export(ctx, req)
	if err != nil {
		e.log.Error().Str("job_id", req.JobID).Str("experiment_id", req.ExperimentID).Err(err).Msg("export failed")
		job, ferr := e.jobs.Fail(ctx, req.JobID, jobs.FailureReason(err))
		if ferr == nil && e.notify != nil {
			e.notify.JobFailed(ctx, job, err)
		}
		return fmt.Errorf("export %s: %v: %w", req.ExperimentID, err, asynq.SkipRetry)
	}
	job, err := e.jobs.Finish(ctx, req.JobID)
	if err != nil {
		return err
	}
	e.log.Info().Str("job_id", job.ID).Str("experiment_id", req.ExperimentID).Msg("export finished")
	if e.notify != nil {
		e.notify.ExportFinished(ctx, job, url)
	}
	return nil
}

func (e *Exporter) export(ctx context.Context, req Request) (string, error) {
	if _, err := e.store.GetExperiment(ctx, req.ExperimentID); err != nil {
		return "", fmt.Errorf("load experiment: %w", err)
	}
	measured, err := e.store.ListMeasuredPeptides(ctx, req.ExperimentID)
	if err != nil {
		return "", fmt.Errorf("list measured peptides: %w", err)
	}
	var annotations map[string][]string
	if req.Annotate {
		rows, err := e.store.ListAnnotations(ctx, req.ExperimentID)
		if err != nil {
			return "", fmt.Errorf("list annotations: %w", err)
		}
		annotations = make(map[string][]string, len(rows))
		for _, r := range rows {
			annotations[r.MeasuredPeptideID] = r.Values
		}
	}

	if err := e.jobs.SetStage(ctx, req.JobID, StageExporting, len(measured)); err != nil {
		return "", err
	}
	proteins := map[string]*model.Protein{}
	for i, ms := range measured {
		if _, ok := proteins[ms.ProteinID]; !ok {
			prot, err := e.store.GetProtein(ctx, ms.ProteinID)
			if err != nil {
				return "", fmt.Errorf("load protein %s: %w", ms.ProteinID, err)
			}
			proteins[ms.ProteinID] = prot
		}
		if done := i + 1; done%notifyInterval == 0 || done == len(measured) {
			if err := e.jobs.SetProgress(ctx, req.JobID, done, len(measured)); err != nil {
				return "", err
			}
		}
	}

	header, rows := Table(measured, proteins, annotations, req.Annotate)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'
	if err := w.Write(header); err != nil {
		return "", err
	}
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}

	key := s3storage.ExportKey(req.ExperimentID, req.JobID)
	if err := e.results.PutResult(ctx, key, buf.Bytes(), "text/tab-separated-values"); err != nil {
		return "", err
	}
	return e.signer.URL(e.opts.DownloadURL, key, e.opts.TTL), nil
}

type dataLabel struct {
	run, tp, units, label string
}

func (d dataLabel) String() string {
	return strings.Join([]string{d.run, d.tp, d.units, d.label}, ":")
}

func lessLabel(a, b dataLabel) bool {
	if a.run != b.run {
		return a.run < b.run
	}
	if a.tp != b.tp {
		return a.tp < b.tp
	}
	if a.units != b.units {
		return a.units < b.units
	}
	fa, errA := strconv.ParseFloat(a.label, 64)
	fb, errB := strconv.ParseFloat(b.label, 64)
	if errA == nil && errB == nil {
		return fa < fb
	}
	return a.label < b.label
}

// Table renders the export header and one row per measured peptide. Data
// columns are named run:type:units:label and sorted, numeric labels by
// value.
func Table(measured []*model.MeasuredPeptide, proteins map[string]*model.Protein, annotations map[string][]string, annotate bool) ([]string, [][]string) {
	seen := map[dataLabel]bool{}
	var labels []dataLabel
	for _, ms := range measured {
		for _, d := range ms.Data {
			l := dataLabel{d.Run, d.Type, d.Units, d.Label}
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}
	sort.SliceStable(labels, func(i, j int) bool { return lessLabel(labels[i], labels[j]) })

	header := append([]string(nil), BaseHeader...)
	if annotate {
		header = append(header, model.AnnotationHeader...)
	}
	for _, l := range labels {
		header = append(header, l.String())
	}

	rows := make([][]string, 0, len(measured))
	for _, ms := range measured {
		prot := proteins[ms.ProteinID]
		if prot == nil {
			prot = &model.Protein{}
		}
		var sites, geneSites, aligned, mods []string
		for _, mp := range ms.Peptides {
			name := mp.Peptide.Name()
			sites = append(sites, name)
			geneSites = append(geneSites, prot.Gene+"_"+name)
			aligned = append(aligned, mp.Peptide.Aligned)
			mods = append(mods, mp.Modification)
		}
		row := []string{
			ms.ID, ms.QueryAccession, prot.Gene, prot.Locus, prot.Name, prot.Species,
			ms.Peptide,
			strings.Join(sites, cellSeparator),
			strings.Join(geneSites, cellSeparator),
			strings.Join(aligned, cellSeparator),
			strings.Join(mods, cellSeparator),
		}
		if annotate {
			values := annotations[ms.ID]
			for i := range model.AnnotationHeader {
				v := ""
				if i < len(values) {
					v = values[i]
				}
				row = append(row, v)
			}
		}
		values := map[dataLabel]string{}
		for _, d := range ms.Data {
			if d.Value != nil {
				values[dataLabel{d.Run, d.Type, d.Units, d.Label}] = strconv.FormatFloat(*d.Value, 'f', -1, 64)
			}
		}
		for _, l := range labels {
			row = append(row, values[l])
		}
		rows = append(rows, row)
	}
	return header, rows
}
