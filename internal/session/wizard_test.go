package session

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ptmscout/internal/jobs"
	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/ptm"
	"github.com/dharsanguruparan/ptmscout/internal/storage"
)

type memFiles struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (f *memFiles) PutDataFile(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = data
	return nil
}

func (f *memFiles) GetDataFile(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type recordingStarter struct {
	requests []ImportRequest
}

func (s *recordingStarter) StartImport(_ context.Context, req ImportRequest) error {
	s.requests = append(s.requests, req)
	return nil
}

type fixture struct {
	wizard  *Wizard
	store   *storage.MemoryStore
	files   *memFiles
	starter *recordingStarter
	tracker *jobs.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := ptm.NewRegistry([]ptm.PTM{
		{ID: "1", Name: "Phosphorylation", Keywords: []string{"Phospho"}},
		{ID: "2", Name: "Phosphoserine", Target: "S", ParentID: "1", Keywords: []string{"Phospho"}},
		{ID: "3", Name: "Acetyl-a", Target: "K"},
		{ID: "4", Name: "Acetyl-a", Target: "K"},
	})
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	files := &memFiles{files: map[string][]byte{}}
	starter := &recordingStarter{}
	tracker := jobs.NewTracker(store)
	w := NewWizard(store, files, reg, tracker, starter, Options{
		AllowedExtensions: []string{"tsv", "txt"},
		BaseURL:           "http://ptmscout.test",
	}, zerolog.Nop())
	return &fixture{wizard: w, store: store, files: files, starter: starter, tracker: tracker}
}

const cleanFile = "acc\tpeptide\tmod\tdata:time(min):0\tdata:time(min):5\n" +
	"P12345\tPEPsTIDE\tPhospho\t1.5\t2\n"

const ambiguousFile = cleanFile + "P12345\tPEPkTIDE\tAcetyl-a\t1\t1\n"

func (f *fixture) start(t *testing.T, body string) *model.UploadSession {
	t.Helper()
	s, err := f.wizard.Start(context.Background(), StartRequest{
		UserID:   "u1",
		FileName: "upload.tsv",
		Body:     strings.NewReader(body),
		Size:     int64(len(body)),
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) configure(t *testing.T, s *model.UploadSession, force bool) *ConfigureResult {
	t.Helper()
	view, err := f.wizard.Columns(context.Background(), s.ID, "u1")
	require.NoError(t, err)
	res, err := f.wizard.Configure(context.Background(), s.ID, "u1", ConfigureRequest{
		Columns: view.Assignment.Columns,
		Units:   view.Assignment.Units,
		Force:   force,
	})
	require.NoError(t, err)
	return res
}

func metadata() Metadata {
	return Metadata{Name: "Time course", Description: "EGF stimulation", Ambiguity: true}
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("Should store file and open session at config", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t, cleanFile)
		assert.Equal(t, model.StageConfig, s.Stage)
		assert.Equal(t, model.LoadNew, s.LoadType)
		assert.Equal(t, model.ResourceExperiment, s.ResourceType)
		assert.True(t, strings.HasSuffix(s.DataFile, "/upload.tsv"))
		assert.Contains(t, f.files.files, s.DataFile)
	})

	t.Run("Should reject wrong extensions and missing parents", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.wizard.Start(ctx, StartRequest{
			UserID:   "u1",
			FileName: "upload.pdf",
			Body:     strings.NewReader("x"),
			LoadType: model.LoadExtension,
		})
		var formErr *FormError
		require.ErrorAs(t, err, &formErr)
		assert.Equal(t, []string{
			"Incorrect File Type : Please upload a .tsv file",
			"Required form field 'Parent Experiment' cannot be empty",
			"Required form field 'Extension Title' cannot be empty",
			"Required form field 'Extension Description' cannot be empty",
		}, formErr.Messages)
	})

	t.Run("Should reject an unknown parent experiment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.wizard.Start(ctx, StartRequest{
			UserID:           "u1",
			FileName:         "upload.tsv",
			Body:             strings.NewReader(cleanFile),
			LoadType:         model.LoadReload,
			ParentExperiment: "missing",
		})
		var formErr *FormError
		require.ErrorAs(t, err, &formErr)
		assert.Contains(t, formErr.Messages[0], "does not exist")
	})
}

func TestOwnership(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, cleanFile)

	_, err := f.wizard.Get(context.Background(), s.ID, "someone-else")
	assert.ErrorIs(t, err, ErrSessionForbidden)

	_, err = f.wizard.Get(context.Background(), "nope", "u1")
	assert.ErrorIs(t, err, ErrNoSuchSession)
}

func TestConfigure(t *testing.T) {
	ctx := context.Background()

	t.Run("Should propose inferred columns", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t, cleanFile)
		view, err := f.wizard.Columns(ctx, s.ID, "u1")
		require.NoError(t, err)
		types := make([]model.ColumnType, len(view.Assignment.Columns))
		for i, c := range view.Assignment.Columns {
			types[i] = c.Type
		}
		assert.Equal(t, []model.ColumnType{
			model.ColumnAccession, model.ColumnPeptide, model.ColumnModification, model.ColumnData, model.ColumnData,
		}, types)
		assert.Equal(t, "time(min)", view.Assignment.Units)
		assert.Len(t, view.Rows, 1)
	})

	t.Run("Should commit a clean assignment", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t, cleanFile)
		res := f.configure(t, s, false)
		assert.True(t, res.Committed)
		assert.True(t, res.Result.OK())

		saved, err := f.store.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StageMetadata, saved.Stage)
		assert.Equal(t, "time(min)", saved.Units)
		assert.Len(t, saved.Columns, 5)
	})

	t.Run("Should hold overridable errors until forced", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t, ambiguousFile)

		res := f.configure(t, s, false)
		assert.False(t, res.Committed)
		assert.True(t, res.AllowOverride)
		require.Len(t, res.Result.Errors, 1)

		res = f.configure(t, s, true)
		assert.True(t, res.Committed)
	})

	t.Run("Should never commit critical errors", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t, cleanFile)
		res, err := f.wizard.Configure(ctx, s.ID, "u1", ConfigureRequest{
			Columns: []model.Column{{Type: model.ColumnAccession}, {Type: model.ColumnData}},
			Force:   true,
		})
		require.NoError(t, err)
		assert.False(t, res.Committed)
		assert.False(t, res.AllowOverride)
		assert.True(t, res.Result.Critical)
	})

	t.Run("Should refuse to skip ahead", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t, cleanFile)
		_, err := f.wizard.SaveMetadata(ctx, s.ID, "u1", metadata())
		assert.ErrorIs(t, err, ErrWrongStage)
	})
}

func TestMetadataAndConditions(t *testing.T) {
	ctx := context.Background()

	t.Run("Should require publication fields when published", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t, cleanFile)
		f.configure(t, s, false)

		m := metadata()
		m.Published = true
		_, err := f.wizard.SaveMetadata(ctx, s.ID, "u1", m)
		var formErr *FormError
		require.ErrorAs(t, err, &formErr)
		assert.Len(t, formErr.Messages, 3)
	})

	t.Run("Should create experiment and accept conditions", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t, cleanFile)
		f.configure(t, s, false)

		e, err := f.wizard.SaveMetadata(ctx, s.ID, "u1", metadata())
		require.NoError(t, err)
		assert.Equal(t, "u1", e.OwnerID)
		assert.Nil(t, e.ParentID)

		err = f.wizard.SaveConditions(ctx, s.ID, "u1", []model.Condition{{Type: model.ConditionCell, Value: ""}})
		var formErr *FormError
		require.ErrorAs(t, err, &formErr)
		assert.Equal(t, []string{"Error: values are required for all experiment conditions fields"}, formErr.Messages)

		require.NoError(t, f.wizard.SaveConditions(ctx, s.ID, "u1", []model.Condition{
			{Type: model.ConditionCell, Value: " HeLa "},
			{Type: model.ConditionDrug, Value: "EGF"},
		}))
		saved, err := f.store.GetExperiment(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, []model.Condition{
			{Type: model.ConditionCell, Value: "HeLa"},
			{Type: model.ConditionDrug, Value: "EGF"},
		}, saved.Conditions)

		defaults, err := f.wizard.MetadataDefaults(ctx, s.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Time course", defaults.Name)
	})

	t.Run("Should create a child experiment for extensions", func(t *testing.T) {
		f := newFixture(t)
		parent := &model.Experiment{ID: "parent", Name: "Parent", OwnerID: "u1"}
		require.NoError(t, f.store.CreateExperiment(ctx, parent))

		s, err := f.wizard.Start(ctx, StartRequest{
			UserID:            "u1",
			FileName:          "upload.tsv",
			Body:              strings.NewReader(cleanFile),
			LoadType:          model.LoadExtension,
			ParentExperiment:  "parent",
			ChangeName:        "More timepoints",
			ChangeDescription: "Adds 5 minutes",
		})
		require.NoError(t, err)
		f.configure(t, s, false)

		defaults, err := f.wizard.MetadataDefaults(ctx, s.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Parent", defaults.Name)

		e, err := f.wizard.SaveMetadata(ctx, s.ID, "u1", metadata())
		require.NoError(t, err)
		assert.NotEqual(t, "parent", e.ID)
		require.NotNil(t, e.ParentID)
		assert.Equal(t, "parent", *e.ParentID)
	})
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, f *fixture) (*model.UploadSession, *model.Experiment) {
		s := f.start(t, cleanFile)
		f.configure(t, s, false)
		e, err := f.wizard.SaveMetadata(ctx, s.ID, "u1", metadata())
		require.NoError(t, err)
		require.NoError(t, f.wizard.SaveConditions(ctx, s.ID, "u1", nil))
		return s, e
	}

	t.Run("Should queue the job and dispatch the import", func(t *testing.T) {
		f := newFixture(t)
		s, e := run(t, f)

		job, err := f.wizard.Confirm(ctx, s.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, model.JobInQueue, job.Status)
		assert.Equal(t, model.JobLoadExperiment, job.Type)
		assert.Equal(t, "http://ptmscout.test/experiments/"+e.ID, job.ResultURL)

		saved, err := f.store.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StageComplete, saved.Stage)
		require.Len(t, f.starter.requests, 1)
		assert.Equal(t, ImportRequest{ExperimentID: e.ID, SessionID: s.ID, JobID: job.ID}, f.starter.requests[0])

		_, err = f.wizard.Confirm(ctx, s.ID, "u1")
		assert.ErrorIs(t, err, ErrWrongStage)
		assert.ErrorIs(t, f.wizard.Cancel(ctx, s.ID, "u1"), ErrWrongStage)
	})

	t.Run("Should restart the existing job of a reloaded experiment", func(t *testing.T) {
		f := newFixture(t)
		s, e := run(t, f)
		first, err := f.wizard.Confirm(ctx, s.ID, "u1")
		require.NoError(t, err)
		_, err = f.tracker.Fail(ctx, first.ID, "boom")
		require.NoError(t, err)

		reload, err := f.wizard.Start(ctx, StartRequest{
			UserID:           "u1",
			FileName:         "upload.tsv",
			Body:             strings.NewReader(cleanFile),
			LoadType:         model.LoadReload,
			ParentExperiment: e.ID,
		})
		require.NoError(t, err)
		f.configure(t, reload, false)
		reloaded, err := f.wizard.SaveMetadata(ctx, reload.ID, "u1", metadata())
		require.NoError(t, err)
		assert.Equal(t, e.ID, reloaded.ID)
		require.NoError(t, f.wizard.SaveConditions(ctx, reload.ID, "u1", nil))

		job, err := f.wizard.Confirm(ctx, reload.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, job.ID)
		assert.Equal(t, model.JobInQueue, job.Status)
		assert.Empty(t, job.FailureReason)
	})

	t.Run("Should restart only failed load jobs", func(t *testing.T) {
		f := newFixture(t)
		s, e := run(t, f)
		job, err := f.wizard.Confirm(ctx, s.ID, "u1")
		require.NoError(t, err)

		_, err = f.wizard.Restart(ctx, job.ID, "u1")
		assert.ErrorIs(t, err, ErrNotRestartable)

		require.NoError(t, f.tracker.SetStage(ctx, job.ID, "annotate", 5))
		_, err = f.tracker.Fail(ctx, job.ID, "boom")
		require.NoError(t, err)

		_, err = f.wizard.Restart(ctx, job.ID, "u2")
		assert.ErrorIs(t, err, ErrSessionForbidden)

		restarted, err := f.wizard.Restart(ctx, job.ID, "")
		require.NoError(t, err)
		assert.Equal(t, model.JobInQueue, restarted.Status)
		assert.Equal(t, "annotate", restarted.Stage)
		require.Len(t, f.starter.requests, 2)
		assert.Equal(t, ImportRequest{ExperimentID: e.ID, SessionID: s.ID, JobID: job.ID}, f.starter.requests[1])
	})

	t.Run("Should remove the experiment shell on cancel", func(t *testing.T) {
		f := newFixture(t)
		s, e := run(t, f)
		require.NoError(t, f.wizard.Cancel(ctx, s.ID, "u1"))

		_, err := f.store.GetExperiment(ctx, e.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = f.wizard.Get(ctx, s.ID, "u1")
		assert.ErrorIs(t, err, ErrNoSuchSession)
	})
}

func TestReview(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, ambiguousFile)
	f.configure(t, s, true)

	parsed, err := f.wizard.Review(context.Background(), s.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"P12345"}, parsed.AccessionList())
	assert.Len(t, parsed.Errors, 1)
}

func TestCanEnter(t *testing.T) {
	assert.True(t, CanEnter(model.StageConfirm, model.StageConfig))
	assert.True(t, CanEnter(model.StageMetadata, model.StageMetadata))
	assert.False(t, CanEnter(model.StageConfig, model.StageMetadata))
	assert.False(t, CanEnter(model.StageComplete, model.StageConfig))

	next, ok := Next(model.StageConfirm)
	assert.True(t, ok)
	assert.Equal(t, model.StageComplete, next)
	_, ok = Next(model.StageComplete)
	assert.False(t, ok)
}
