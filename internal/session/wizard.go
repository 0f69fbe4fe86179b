// Package session drives the upload wizard: config, metadata, condition,
// confirm and complete. All wizard state lives in the persisted
// UploadSession so each step is a plain request/response turn.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ptmscout/internal/columns"
	"github.com/dharsanguruparan/ptmscout/internal/datafile"
	"github.com/dharsanguruparan/ptmscout/internal/jobs"
	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/validate"
)

// SampleCellWidth bounds the sample cells shown while assigning columns.
const SampleCellWidth = 20

// Store persists sessions and the experiments they populate.
type Store interface {
	CreateSession(ctx context.Context, s *model.UploadSession) error
	GetSession(ctx context.Context, id string) (*model.UploadSession, error)
	UpdateSession(ctx context.Context, s *model.UploadSession) error
	DeleteSession(ctx context.Context, id string) error
	LatestSessionForExperiment(ctx context.Context, expID string) (*model.UploadSession, error)

	CreateExperiment(ctx context.Context, e *model.Experiment) error
	GetExperiment(ctx context.Context, id string) (*model.Experiment, error)
	FindExperimentByJob(ctx context.Context, jobID string) (*model.Experiment, error)
	UpdateExperiment(ctx context.Context, e *model.Experiment) error
	DeleteExperiment(ctx context.Context, id string) error
	ReplaceConditions(ctx context.Context, expID string, conds []model.Condition) error
}

// Files stores the raw uploaded data files.
type Files interface {
	PutDataFile(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	GetDataFile(ctx context.Context, key string) (io.ReadCloser, error)
}

// ImportRequest identifies the load a confirmed session hands to the worker.
type ImportRequest struct {
	ExperimentID string `json:"experiment_id"`
	SessionID    string `json:"session_id"`
	JobID        string `json:"job_id"`
}

// Starter dispatches the asynchronous import of a confirmed session.
type Starter interface {
	StartImport(ctx context.Context, req ImportRequest) error
}

// Options configure a Wizard.
type Options struct {
	AllowedExtensions []string
	BaseURL           string
}

// Wizard implements every wizard step on top of the stores.
type Wizard struct {
	store   Store
	files   Files
	mods    validate.Resolver
	jobs    *jobs.Tracker
	starter Starter
	opts    Options
	log     zerolog.Logger
	now     func() time.Time
}

// NewWizard constructs a Wizard.
func NewWizard(store Store, files Files, mods validate.Resolver, tracker *jobs.Tracker, starter Starter, opts Options, log zerolog.Logger) *Wizard {
	return &Wizard{
		store:   store,
		files:   files,
		mods:    mods,
		jobs:    tracker,
		starter: starter,
		opts:    opts,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// StartRequest is the first wizard form.
type StartRequest struct {
	UserID            string
	FileName          string
	Body              io.Reader
	Size              int64
	ContentType       string
	ResourceType      model.ResourceType
	LoadType          model.LoadType
	ParentExperiment  string
	ChangeName        string
	ChangeDescription string
}

func required(errs *formErrors, value, field string) {
	if strings.TrimSpace(value) == "" {
		errs.add(fmt.Sprintf("Required form field '%s' cannot be empty", field))
	}
}

func (w *Wizard) allowedFile(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, allowed := range w.opts.AllowedExtensions {
		if ext != "" && ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// Start stores the uploaded file and opens a session at the config stage.
func (w *Wizard) Start(ctx context.Context, req StartRequest) (*model.UploadSession, error) {
	var errs formErrors
	if req.Body == nil || req.FileName == "" {
		errs.add("Required form field 'Input Data File' cannot be empty")
	} else if !w.allowedFile(req.FileName) {
		errs.add("Incorrect File Type : Please upload a .tsv file")
	}
	if req.LoadType == "" {
		req.LoadType = model.LoadNew
	}
	switch req.LoadType {
	case model.LoadNew, model.LoadReload, model.LoadAppend, model.LoadExtension:
	default:
		errs.add(fmt.Sprintf("Unknown upload type '%s'", req.LoadType))
	}
	if req.LoadType != model.LoadNew {
		required(&errs, req.ParentExperiment, "Parent Experiment")
	}
	if req.LoadType == model.LoadExtension {
		required(&errs, req.ChangeName, "Extension Title")
		required(&errs, req.ChangeDescription, "Extension Description")
	}
	if req.ResourceType == "" {
		req.ResourceType = model.ResourceExperiment
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	s := &model.UploadSession{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		ResourceType: req.ResourceType,
		LoadType:     req.LoadType,
		Stage:        model.StageConfig,
		CreatedAt:    w.now(),
	}
	if req.LoadType != model.LoadNew {
		parent := strings.TrimSpace(req.ParentExperiment)
		if _, err := w.store.GetExperiment(ctx, parent); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil, &FormError{Messages: []string{fmt.Sprintf("Parent experiment '%s' does not exist", parent)}}
			}
			return nil, fmt.Errorf("load parent experiment: %w", err)
		}
		s.ParentExperiment = &parent
	}
	if req.LoadType == model.LoadExtension {
		s.ChangeName = strings.TrimSpace(req.ChangeName)
		s.ChangeDescription = strings.TrimSpace(req.ChangeDescription)
	}

	s.DataFile = fmt.Sprintf("sessions/%s/%s", s.ID, filepath.Base(req.FileName))
	if err := w.files.PutDataFile(ctx, s.DataFile, req.Body, req.Size, req.ContentType); err != nil {
		return nil, fmt.Errorf("store data file: %w", err)
	}
	if err := w.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	w.log.Info().Str("session_id", s.ID).Str("load_type", string(s.LoadType)).Msg("upload session started")
	return s, nil
}

// Get returns the session owned by userID.
func (w *Wizard) Get(ctx context.Context, sessionID, userID string) (*model.UploadSession, error) {
	s, err := w.store.GetSession(ctx, sessionID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchSession, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s.UserID != userID {
		return nil, ErrSessionForbidden
	}
	return s, nil
}

func (w *Wizard) enter(ctx context.Context, sessionID, userID string, stage model.SessionStage) (*model.UploadSession, error) {
	s, err := w.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !CanEnter(s.Stage, stage) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrWrongStage, s.Stage, stage)
	}
	return s, nil
}

func (w *Wizard) table(ctx context.Context, s *model.UploadSession, limit int) (*datafile.Table, error) {
	rc, err := w.files.GetDataFile(ctx, s.DataFile)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer rc.Close()
	return datafile.Open(s.DataFile, rc, limit)
}

func (w *Wizard) ancestor(ctx context.Context, s *model.UploadSession) (*model.UploadSession, error) {
	if s.ParentExperiment == nil {
		return nil, nil
	}
	a, err := w.store.LatestSessionForExperiment(ctx, *s.ParentExperiment)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// ColumnsView is what the config stage shows: the header, a sample of rows
// and the proposed assignment.
type ColumnsView struct {
	Header     []string           `json:"header"`
	Rows       [][]string         `json:"rows"`
	Assignment columns.Assignment `json:"assignment"`
}

// Columns proposes the column assignment of the session's file.
func (w *Wizard) Columns(ctx context.Context, sessionID, userID string) (*ColumnsView, error) {
	s, err := w.enter(ctx, sessionID, userID, model.StageConfig)
	if err != nil {
		return nil, err
	}
	t, err := w.table(ctx, s, validate.MaxRowCheck)
	if err != nil {
		return nil, err
	}
	anc, err := w.ancestor(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("load ancestor session: %w", err)
	}
	return &ColumnsView{
		Header:     t.Header,
		Rows:       datafile.Truncate(t.Rows, SampleCellWidth),
		Assignment: columns.Defaults(t.Header, s, anc),
	}, nil
}

// ConfigureRequest is the submitted column assignment.
type ConfigureRequest struct {
	Columns []model.Column `json:"columns"`
	Units   string         `json:"units"`
	Force   bool           `json:"force"`
}

// ConfigureResult reports whether the assignment was committed and, if not,
// why. AllowOverride is set when only overridable errors were found.
type ConfigureResult struct {
	Committed     bool            `json:"committed"`
	AllowOverride bool            `json:"allowOverride"`
	Result        validate.Result `json:"result"`
}

// Configure validates the assignment against the first rows of the file and
// commits it when clean, or when forced past overridable errors.
func (w *Wizard) Configure(ctx context.Context, sessionID, userID string, req ConfigureRequest) (*ConfigureResult, error) {
	s, err := w.enter(ctx, sessionID, userID, model.StageConfig)
	if err != nil {
		return nil, err
	}
	t, err := w.table(ctx, s, validate.MaxRowCheck)
	if err != nil {
		return nil, err
	}

	submitted := make([]model.Column, len(t.Header))
	for i := range submitted {
		if i < len(req.Columns) {
			submitted[i] = req.Columns[i]
		}
	}
	cols, colErrs := validate.CheckAssignments(submitted)

	var res validate.Result
	if len(colErrs) > 0 {
		res = validate.Result{Errors: colErrs, Critical: true}
	} else {
		res = validate.Check(cols, t.Rows, w.mods, validate.Options{
			Limit:             validate.MaxRowCheck,
			NullModifications: s.ResourceType == model.ResourceDataset,
		})
	}

	out := &ConfigureResult{Result: res, AllowOverride: !res.OK() && !res.Critical}
	if res.Blocks(req.Force) {
		return out, nil
	}
	s.Columns = cols
	s.Units = strings.TrimSpace(req.Units)
	s.Stage = model.StageMetadata
	if err := w.store.UpdateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("save session columns: %w", err)
	}
	out.Committed = true
	return out, nil
}

// Metadata is the experiment description captured by the metadata stage.
type Metadata struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	URL             string `json:"url"`
	Published       bool   `json:"published"`
	Ambiguity       bool   `json:"ambiguity"`
	Author          string `json:"author"`
	ContactEmail    string `json:"contactEmail"`
	Journal         string `json:"journal"`
	PublicationYear int    `json:"publicationYear"`
	Volume          string `json:"volume"`
	Pages           string `json:"pages"`
	PMID            string `json:"pmid"`
}

func metadataOf(e *model.Experiment) Metadata {
	return Metadata{
		Name:            e.Name,
		Description:     e.Description,
		URL:             e.URL,
		Published:       e.Published,
		Ambiguity:       e.Ambiguity,
		Author:          e.Author,
		ContactEmail:    e.ContactEmail,
		Journal:         e.Journal,
		PublicationYear: e.PublicationYear,
		Volume:          e.Volume,
		Pages:           e.Pages,
		PMID:            e.PMID,
	}
}

// MetadataDefaults pre-populates the metadata form from the session's
// experiment, or from the parent experiment of a reload or extension.
func (w *Wizard) MetadataDefaults(ctx context.Context, sessionID, userID string) (Metadata, error) {
	s, err := w.enter(ctx, sessionID, userID, model.StageMetadata)
	if err != nil {
		return Metadata{}, err
	}
	var expID *string
	switch {
	case s.ExperimentID != nil:
		expID = s.ExperimentID
	case s.ParentExperiment != nil:
		expID = s.ParentExperiment
	}
	if expID == nil {
		return Metadata{Ambiguity: true}, nil
	}
	e, err := w.store.GetExperiment(ctx, *expID)
	if err != nil {
		return Metadata{}, fmt.Errorf("load experiment: %w", err)
	}
	return metadataOf(e), nil
}

func (m Metadata) validate() error {
	var errs formErrors
	required(&errs, m.Name, "Experiment Name")
	required(&errs, m.Description, "Description")
	if m.Published {
		required(&errs, m.Journal, "Journal")
		required(&errs, m.Author, "Authors")
		if m.PublicationYear <= 0 {
			errs.add("Required form field 'Publication Year' cannot be empty")
		}
	}
	return errs.err()
}

// SaveMetadata creates or updates the experiment shell and moves the session
// to the condition stage.
func (w *Wizard) SaveMetadata(ctx context.Context, sessionID, userID string, m Metadata) (*model.Experiment, error) {
	s, err := w.enter(ctx, sessionID, userID, model.StageMetadata)
	if err != nil {
		return nil, err
	}
	if err := m.validate(); err != nil {
		return nil, err
	}

	var e *model.Experiment
	exists := true
	switch {
	case s.ExperimentID != nil:
		e, err = w.store.GetExperiment(ctx, *s.ExperimentID)
	case s.LoadType == model.LoadReload || s.LoadType == model.LoadAppend:
		e, err = w.store.GetExperiment(ctx, *s.ParentExperiment)
	default:
		e, exists = &model.Experiment{ID: uuid.NewString(), CreatedAt: w.now()}, false
	}
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}

	e.Name = strings.TrimSpace(m.Name)
	e.Description = strings.TrimSpace(m.Description)
	e.URL = strings.TrimSpace(m.URL)
	e.Published = m.Published
	e.Ambiguity = m.Ambiguity
	e.Type = s.ResourceType
	e.OwnerID = userID
	e.Author, e.ContactEmail, e.Journal, e.Volume, e.Pages, e.PMID = "", "", "", "", "", ""
	e.PublicationYear = 0
	if m.Published {
		e.Author = strings.TrimSpace(m.Author)
		e.ContactEmail = strings.TrimSpace(m.ContactEmail)
		e.Journal = strings.TrimSpace(m.Journal)
		e.PublicationYear = m.PublicationYear
		e.Volume = strings.TrimSpace(m.Volume)
		e.Pages = strings.TrimSpace(m.Pages)
		e.PMID = strings.TrimSpace(m.PMID)
	}
	if s.LoadType == model.LoadExtension {
		e.ParentID = s.ParentExperiment
	}

	if exists {
		err = w.store.UpdateExperiment(ctx, e)
	} else {
		err = w.store.CreateExperiment(ctx, e)
	}
	if err != nil {
		return nil, fmt.Errorf("save experiment: %w", err)
	}

	s.ExperimentID = &e.ID
	s.Stage = model.StageCondition
	if err := w.store.UpdateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return e, nil
}

// SaveConditions replaces the experiment's conditions and moves the session
// to the confirm stage.
func (w *Wizard) SaveConditions(ctx context.Context, sessionID, userID string, conds []model.Condition) error {
	s, err := w.enter(ctx, sessionID, userID, model.StageCondition)
	if err != nil {
		return err
	}
	var errs formErrors
	clean := make([]model.Condition, 0, len(conds))
	for _, c := range conds {
		c.Value = strings.TrimSpace(c.Value)
		if !c.Type.Valid() {
			errs.add(fmt.Sprintf("Error: unknown experiment condition type '%s'", c.Type))
			continue
		}
		if c.Value == "" {
			errs.add("Error: values are required for all experiment conditions fields")
			continue
		}
		clean = append(clean, c)
	}
	if err := errs.err(); err != nil {
		return err
	}
	if err := w.store.ReplaceConditions(ctx, *s.ExperimentID, clean); err != nil {
		return fmt.Errorf("save conditions: %w", err)
	}
	s.Stage = model.StageConfirm
	if err := w.store.UpdateSession(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func jobType(rt model.ResourceType) model.JobType {
	switch rt {
	case model.ResourceAnnotations:
		return model.JobLoadAnnotations
	case model.ResourceDataset:
		return model.JobLoadDataset
	default:
		return model.JobLoadExperiment
	}
}

// Confirm creates or restarts the load job, completes the session and hands
// the import to the worker.
func (w *Wizard) Confirm(ctx context.Context, sessionID, userID string) (*model.Job, error) {
	s, err := w.enter(ctx, sessionID, userID, model.StageConfirm)
	if err != nil {
		return nil, err
	}
	e, err := w.store.GetExperiment(ctx, *s.ExperimentID)
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}

	var job *model.Job
	if e.JobID != nil {
		job, err = w.jobs.Get(ctx, *e.JobID)
		if err != nil {
			return nil, err
		}
		if !job.IsActive() {
			if job, err = w.jobs.Restart(ctx, job.ID); err != nil {
				return nil, err
			}
		}
	} else {
		job, err = w.jobs.Create(ctx, e.Name, jobType(s.ResourceType), userID)
		if err != nil {
			return nil, err
		}
		status := fmt.Sprintf("%s/jobs/%s", w.opts.BaseURL, job.ID)
		result := fmt.Sprintf("%s/experiments/%s", w.opts.BaseURL, e.ID)
		if err := w.jobs.SetURLs(ctx, job.ID, status, status+"/restart", result); err != nil {
			return nil, err
		}
		e.JobID = &job.ID
		if err := w.store.UpdateExperiment(ctx, e); err != nil {
			return nil, fmt.Errorf("link job: %w", err)
		}
	}
	if err := w.jobs.SetStatus(ctx, job.ID, model.JobInQueue); err != nil {
		return nil, err
	}

	s.Stage = model.StageComplete
	if err := w.store.UpdateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	req := ImportRequest{ExperimentID: e.ID, SessionID: s.ID, JobID: job.ID}
	if err := w.starter.StartImport(ctx, req); err != nil {
		return nil, fmt.Errorf("dispatch import: %w", err)
	}
	w.log.Info().Str("session_id", s.ID).Str("experiment_id", e.ID).Str("job_id", job.ID).Msg("upload confirmed")
	return w.jobs.Get(ctx, job.ID)
}

// Restart puts a failed load job back on the queue under the same id. The
// import resumes from the stage the job failed in. An empty userID skips the
// ownership check.
func (w *Wizard) Restart(ctx context.Context, jobID, userID string) (*model.Job, error) {
	job, err := w.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if userID != "" && job.UserID != userID {
		return nil, ErrSessionForbidden
	}
	if job.Status != model.JobError || job.Type == model.JobExportExp {
		return nil, fmt.Errorf("%w: %s job is %s", ErrNotRestartable, job.Type, job.Status)
	}
	e, err := w.store.FindExperimentByJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("load experiment of job %s: %w", job.ID, err)
	}
	s, err := w.store.LatestSessionForExperiment(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("load session of experiment %s: %w", e.ID, err)
	}
	if job, err = w.jobs.Restart(ctx, job.ID); err != nil {
		return nil, err
	}
	req := ImportRequest{ExperimentID: e.ID, SessionID: s.ID, JobID: job.ID}
	if err := w.starter.StartImport(ctx, req); err != nil {
		return nil, fmt.Errorf("dispatch import: %w", err)
	}
	w.log.Info().Str("job_id", job.ID).Str("experiment_id", e.ID).Str("stage", job.Stage).Msg("job restarted")
	return job, nil
}

// Cancel removes an unfinished session and the experiment shell it created.
// Experiments that already carry a job, or that belong to a parent the
// session reloads, are kept.
func (w *Wizard) Cancel(ctx context.Context, sessionID, userID string) error {
	s, err := w.Get(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if s.Stage == model.StageComplete {
		return fmt.Errorf("%w: session already complete", ErrWrongStage)
	}
	if s.ExperimentID != nil && (s.LoadType == model.LoadNew || s.LoadType == model.LoadExtension) {
		e, err := w.store.GetExperiment(ctx, *s.ExperimentID)
		switch {
		case errors.Is(err, model.ErrNotFound):
		case err != nil:
			return fmt.Errorf("load experiment: %w", err)
		case e.JobID == nil:
			if err := w.store.DeleteExperiment(ctx, e.ID); err != nil {
				return fmt.Errorf("delete experiment shell: %w", err)
			}
		}
	}
	if err := w.store.DeleteSession(ctx, s.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Review runs the full parser over the whole file with the saved columns.
func (w *Wizard) Review(ctx context.Context, sessionID, userID string) (*datafile.Parsed, error) {
	s, err := w.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	t, err := w.table(ctx, s, -1)
	if err != nil {
		return nil, err
	}
	return datafile.Parse(s.Columns, t.Rows, w.mods, validate.Options{NullModifications: s.ResourceType == model.ResourceDataset})
}
