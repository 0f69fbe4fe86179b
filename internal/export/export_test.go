package export

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ptmscout/internal/jobs"
	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/signing"
	"github.com/dharsanguruparan/ptmscout/internal/storage"
)

type memResults struct {
	files map[string][]byte
	err   error
}

func (r *memResults) PutResult(_ context.Context, key string, data []byte, _ string) error {
	if r.err != nil {
		return r.err
	}
	r.files[key] = data
	return nil
}

type captureNotifier struct {
	links  []string
	failed []error
}

func (n *captureNotifier) JobFailed(_ context.Context, _ *model.Job, cause error) {
	n.failed = append(n.failed, cause)
}

func (n *captureNotifier) ExportFinished(_ context.Context, _ *model.Job, url string) {
	n.links = append(n.links, url)
}

func value(v float64) *float64 { return &v }

func measurement() ([]*model.MeasuredPeptide, map[string]*model.Protein) {
	prot := &model.Protein{ID: "p1", Name: "Test kinase", Gene: "TK1", Species: "homo sapiens", Sequence: "MKAAPEPSTIDEGGK"}
	ms := &model.MeasuredPeptide{
		ID:             "m1",
		ProteinID:      "p1",
		QueryAccession: "P12345",
		Peptide:        "PEPsTIdE",
		Peptides: []model.ModifiedPeptide{
			{Peptide: model.Peptide{SitePos: 8, SiteType: "S", Aligned: "MKAAPEPsTIDEGGK"}, Modification: "Phosphoserine"},
			{Peptide: model.Peptide{SitePos: 11, SiteType: "D", Aligned: "APEPSTIdEGGK"}, Modification: "Other"},
		},
		Data: []model.ExperimentData{
			{Run: "average", Type: "data", Units: "time(min)", Label: "10", Value: value(3)},
			{Run: "average", Type: "data", Units: "time(min)", Label: "5", Value: value(1.5)},
			{Run: "average", Type: "stddev", Units: "time(min)", Label: "5"},
		},
	}
	return []*model.MeasuredPeptide{ms}, map[string]*model.Protein{"p1": prot}
}

func TestTable(t *testing.T) {
	measured, proteins := measurement()

	header, rows := Table(measured, proteins, nil, false)
	assert.Equal(t, append(append([]string(nil), BaseHeader...),
		"average:data:time(min):5", "average:data:time(min):10", "average:stddev:time(min):5"), header)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{
		"m1", "P12345", "TK1", "", "Test kinase", "homo sapiens", "PEPsTIdE",
		"S8; D11", "TK1_S8; TK1_D11", "MKAAPEPsTIDEGGK; APEPSTIdEGGK", "Phosphoserine; Other",
		"1.5", "3", "",
	}, rows[0])

	header, rows = Table(measured, proteins, map[string][]string{"m1": {"S8: Phosphoserine"}}, true)
	assert.Len(t, header, len(BaseHeader)+len(model.AnnotationHeader)+3)
	assert.Equal(t, "S8: Phosphoserine", rows[0][len(BaseHeader)])
	assert.Equal(t, "", rows[0][len(BaseHeader)+1])
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	setup := func(t *testing.T, results *memResults) (*Exporter, *jobs.Tracker, *captureNotifier, string) {
		t.Helper()
		store := storage.NewMemoryStore()
		measured, proteins := measurement()
		require.NoError(t, store.SaveProtein(ctx, proteins["p1"]))
		exp := &model.Experiment{Name: "Time course", OwnerID: "u1@example.org"}
		require.NoError(t, store.CreateExperiment(ctx, exp))
		measured[0].ExperimentID = exp.ID
		require.NoError(t, store.SaveMeasuredPeptide(ctx, measured[0]))

		tracker := jobs.NewTracker(store)
		notifier := &captureNotifier{}
		e := New(store, results, tracker, signing.NewSigner([]byte("secret")), notifier,
			Options{DownloadURL: "http://ptmscout.test/downloads", TTL: time.Hour}, zerolog.Nop())
		return e, tracker, notifier, exp.ID
	}

	t.Run("Should write the file and mail a signed link", func(t *testing.T) {
		results := &memResults{files: map[string][]byte{}}
		e, tracker, notifier, expID := setup(t, results)
		job, err := tracker.Create(ctx, "Time course", model.JobExportExp, "u1@example.org")
		require.NoError(t, err)

		require.NoError(t, e.Export(ctx, Request{ExperimentID: expID, JobID: job.ID}))

		key := "exports/" + expID + "/" + job.ID + ".tsv"
		require.Contains(t, results.files, key)
		lines := strings.Split(strings.TrimSpace(string(results.files[key])), "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[0], "MS_id\tquery_accession\t"))

		require.Len(t, notifier.links, 1)
		u, err := url.Parse(notifier.links[0])
		require.NoError(t, err)
		assert.Equal(t, key, u.Query().Get("key"))

		job, err = tracker.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobFinished, job.Status)
		assert.Equal(t, StageExporting, job.Stage)
		assert.Equal(t, 1, job.Progress)
	})

	t.Run("Should fail the job when the file cannot be stored", func(t *testing.T) {
		e, tracker, notifier, expID := setup(t, &memResults{err: errors.New("bucket gone")})
		job, err := tracker.Create(ctx, "Time course", model.JobExportExp, "u1@example.org")
		require.NoError(t, err)

		err = e.Export(ctx, Request{ExperimentID: expID, JobID: job.ID})
		assert.ErrorIs(t, err, asynq.SkipRetry)
		require.Len(t, notifier.failed, 1)

		job, err = tracker.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobError, job.Status)
		assert.Contains(t, job.FailureReason, "bucket gone")
		assert.Contains(t, job.FailureReason, "goroutine ")
		assert.Contains(t, job.FailureReason, "export.(*Exporter).Export")
	})
}
