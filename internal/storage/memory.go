// Package storage contains the in-memory persistence layer. It implements the
// same store interfaces as the Postgres repository and backs the unit tests
// of every package that persists something.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/ptm"
)

// ErrNotFound is re-exported so callers can compare errors using errors.Is.
var ErrNotFound = model.ErrNotFound

type peptideKey struct {
	proteinID string
	pos       int
	residue   string
}

type measuredKey struct {
	experimentID, proteinID, peptide, mods string
}

// MemoryStore keeps every record in maps guarded by a RWMutex: many readers
// (polling clients) and a single writer at a time.
type MemoryStore struct {
	mu sync.RWMutex

	sessions    map[string]*model.UploadSession
	jobs        map[string]*model.Job
	experiments map[string]*model.Experiment
	expErrors   map[string][]model.ExperimentError
	errorSeq    int64
	ptms        []ptm.PTM
	proteins    map[string]*model.Protein
	peptides    map[peptideKey]*model.Peptide
	measured    map[measuredKey]*model.MeasuredPeptide
	msOrder     []measuredKey
	annotations map[string][]model.Annotation
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*model.UploadSession),
		jobs:        make(map[string]*model.Job),
		experiments: make(map[string]*model.Experiment),
		expErrors:   make(map[string][]model.ExperimentError),
		proteins:    make(map[string]*model.Protein),
		peptides:    make(map[peptideKey]*model.Peptide),
		measured:    make(map[measuredKey]*model.MeasuredPeptide),
		annotations: make(map[string][]model.Annotation),
	}
}

func copySession(s *model.UploadSession) *model.UploadSession {
	c := *s
	c.Columns = append([]model.Column(nil), s.Columns...)
	return &c
}

// CreateSession inserts a new upload session. An empty ID is assigned.
func (m *MemoryStore) CreateSession(_ context.Context, s *model.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

// GetSession returns a copy of the session and its columns.
func (m *MemoryStore) GetSession(_ context.Context, id string) (*model.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

// UpdateSession replaces the stored session, columns included.
func (m *MemoryStore) UpdateSession(_ context.Context, s *model.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

// DeleteSession removes a session.
func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// LatestSessionForExperiment returns the most recently created session that
// populated expID.
func (m *MemoryStore) LatestSessionForExperiment(_ context.Context, expID string) (*model.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *model.UploadSession
	for _, s := range m.sessions {
		if s.ExperimentID == nil || *s.ExperimentID != expID {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return copySession(latest), nil
}

// CreateJob inserts a job.
func (m *MemoryStore) CreateJob(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *job
	m.jobs[job.ID] = &c
	return nil
}

// GetJob returns a copy of a job.
func (m *MemoryStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *job
	return &c, nil
}

// UpdateJob replaces a stored job.
func (m *MemoryStore) UpdateJob(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	c := *job
	m.jobs[job.ID] = &c
	return nil
}

// ListJobsByStatus returns the jobs in any of statuses, oldest first.
func (m *MemoryStore) ListJobsByStatus(_ context.Context, statuses ...model.JobStatus) ([]*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := map[model.JobStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []*model.Job
	for _, j := range m.jobs {
		if want[j.Status] {
			c := *j
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func copyExperiment(e *model.Experiment) *model.Experiment {
	c := *e
	c.Conditions = append([]model.Condition(nil), e.Conditions...)
	return &c
}

// CreateExperiment inserts an experiment. An empty ID is assigned.
func (m *MemoryStore) CreateExperiment(_ context.Context, e *model.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.experiments[e.ID] = copyExperiment(e)
	return nil
}

// GetExperiment returns a copy of an experiment with its conditions.
func (m *MemoryStore) GetExperiment(_ context.Context, id string) (*model.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExperiment(e), nil
}

// FindExperimentByJob returns the experiment linked to jobID.
func (m *MemoryStore) FindExperimentByJob(_ context.Context, jobID string) (*model.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.experiments {
		if e.JobID != nil && *e.JobID == jobID {
			return copyExperiment(e), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateExperiment replaces the experiment fields. Conditions are left alone.
func (m *MemoryStore) UpdateExperiment(_ context.Context, e *model.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.experiments[e.ID]
	if !ok {
		return ErrNotFound
	}
	c := copyExperiment(e)
	c.Conditions = old.Conditions
	m.experiments[e.ID] = c
	return nil
}

// DeleteExperiment removes an experiment and its errors.
func (m *MemoryStore) DeleteExperiment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.experiments[id]; !ok {
		return ErrNotFound
	}
	delete(m.experiments, id)
	delete(m.expErrors, id)
	return nil
}

// ReplaceConditions swaps the experiment's condition set in one step.
func (m *MemoryStore) ReplaceConditions(_ context.Context, expID string, conds []model.Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.experiments[expID]
	if !ok {
		return ErrNotFound
	}
	e.Conditions = append([]model.Condition(nil), conds...)
	return nil
}

// ClearExperimentErrors drops every recorded error of an experiment.
func (m *MemoryStore) ClearExperimentErrors(_ context.Context, expID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expErrors, expID)
	return nil
}

// AddExperimentErrors appends errors, assigning ids.
func (m *MemoryStore) AddExperimentErrors(_ context.Context, errs []model.ExperimentError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range errs {
		m.errorSeq++
		e.ID = m.errorSeq
		m.expErrors[e.ExperimentID] = append(m.expErrors[e.ExperimentID], e)
	}
	return nil
}

// ListExperimentErrors returns errors ordered by line.
func (m *MemoryStore) ListExperimentErrors(_ context.Context, expID string) ([]model.ExperimentError, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]model.ExperimentError(nil), m.expErrors[expID]...)
	sort.SliceStable(out, func(i, k int) bool { return out[i].Line < out[k].Line })
	return out, nil
}

// SavePTMs replaces the PTM reference records.
func (m *MemoryStore) SavePTMs(_ context.Context, records []ptm.PTM) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ptms = append([]ptm.PTM(nil), records...)
	return nil
}

// ListPTMs returns the PTM reference records.
func (m *MemoryStore) ListPTMs(_ context.Context) ([]ptm.PTM, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ptm.PTM(nil), m.ptms...), nil
}

func copyProtein(p *model.Protein) *model.Protein {
	c := *p
	c.Accessions = append([]string(nil), p.Accessions...)
	c.Domains = append([]model.Domain(nil), p.Domains...)
	c.Regions = append([]model.Region(nil), p.Regions...)
	c.Mutations = append([]model.Mutation(nil), p.Mutations...)
	c.GOTerms = append([]model.GOTerm(nil), p.GOTerms...)
	return &c
}

// FindProteinBySequence returns the protein with the exact sequence and species.
func (m *MemoryStore) FindProteinBySequence(_ context.Context, sequence, species string) (*model.Protein, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.proteins {
		if p.Sequence == sequence && p.Species == species {
			return copyProtein(p), nil
		}
	}
	return nil, ErrNotFound
}

// GetProtein returns a protein by id.
func (m *MemoryStore) GetProtein(_ context.Context, id string) (*model.Protein, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proteins[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProtein(p), nil
}

// SaveProtein inserts or replaces a protein with all of its features. An
// empty ID is assigned.
func (m *MemoryStore) SaveProtein(_ context.Context, p *model.Protein) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.proteins[p.ID] = copyProtein(p)
	return nil
}

// GetOrCreatePeptide returns the peptide at (protein, position, residue),
// creating it from p when absent.
func (m *MemoryStore) GetOrCreatePeptide(_ context.Context, p *model.Peptide) (*model.Peptide, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := peptideKey{p.ProteinID, p.SitePos, p.SiteType}
	if found, ok := m.peptides[key]; ok {
		c := *found
		return &c, false, nil
	}
	c := *p
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.peptides[key] = &c
	out := c
	return &out, true, nil
}

func copyMeasured(ms *model.MeasuredPeptide) *model.MeasuredPeptide {
	c := *ms
	c.Peptides = append([]model.ModifiedPeptide(nil), ms.Peptides...)
	c.Data = append([]model.ExperimentData(nil), ms.Data...)
	return &c
}

// SaveMeasuredPeptide upserts a measurement keyed by experiment, protein,
// peptide string and modification set. The stored id is written back to ms.
func (m *MemoryStore) SaveMeasuredPeptide(_ context.Context, ms *model.MeasuredPeptide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := measuredKey{ms.ExperimentID, ms.ProteinID, ms.Peptide, ms.ModificationKey()}
	if old, ok := m.measured[key]; ok {
		ms.ID = old.ID
	} else {
		if ms.ID == "" {
			ms.ID = uuid.NewString()
		}
		m.msOrder = append(m.msOrder, key)
	}
	m.measured[key] = copyMeasured(ms)
	return nil
}

// ListMeasuredPeptides returns an experiment's measurements in insert order.
func (m *MemoryStore) ListMeasuredPeptides(_ context.Context, expID string) ([]*model.MeasuredPeptide, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.MeasuredPeptide
	for _, k := range m.msOrder {
		if k.experimentID == expID {
			out = append(out, copyMeasured(m.measured[k]))
		}
	}
	return out, nil
}

// ListMeasuredPeptidesByProtein returns every measurement of a protein
// across experiments.
func (m *MemoryStore) ListMeasuredPeptidesByProtein(_ context.Context, proteinID string) ([]*model.MeasuredPeptide, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.MeasuredPeptide
	for _, k := range m.msOrder {
		if k.proteinID == proteinID {
			out = append(out, copyMeasured(m.measured[k]))
		}
	}
	return out, nil
}

// SaveAnnotations replaces the derived annotation rows of an experiment.
func (m *MemoryStore) SaveAnnotations(_ context.Context, expID string, rows []model.Annotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.annotations[expID] = append([]model.Annotation(nil), rows...)
	return nil
}

// ListAnnotations returns the annotation rows of an experiment.
func (m *MemoryStore) ListAnnotations(_ context.Context, expID string) ([]model.Annotation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Annotation(nil), m.annotations[expID]...), nil
}
