package model

import "time"

// JobStatus describes the lifecycle of an asynchronous job.
type JobStatus string

const (
	JobConfiguration JobStatus = "configuration"
	JobInQueue       JobStatus = "in queue"
	JobStarted       JobStatus = "started"
	JobFinished      JobStatus = "finished"
	JobError         JobStatus = "error"
)

// JobType names the kind of background work a job tracks.
type JobType string

const (
	JobLoadExperiment  JobType = "load_experiment"
	JobLoadAnnotations JobType = "load_annotations"
	JobLoadDataset     JobType = "load_dataset"
	JobMCAMEnrichment  JobType = "mcam_enrichment"
	JobBatchAnnotate   JobType = "batch_annotate"
	JobExportExp       JobType = "export_experiment"
)

// StageInitializing is the stage of a freshly created job.
const StageInitializing = "initializing"

// Job is the persisted progress record of one asynchronous pipeline.
type Job struct {
	ID            string     `json:"id"`
	Status        JobStatus  `json:"status"`
	FailureReason string     `json:"failureReason,omitempty"`
	Stage         string     `json:"stage"`
	Progress      int        `json:"progress"`
	MaxProgress   int        `json:"maxProgress"`
	StatusURL     string     `json:"statusUrl,omitempty"`
	ResumeURL     string     `json:"resumeUrl,omitempty"`
	ResultURL     string     `json:"resultUrl,omitempty"`
	Name          string     `json:"name"`
	Type          JobType    `json:"type"`
	UserID        string     `json:"userId"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	RestartedAt   *time.Time `json:"restartedAt,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// NewJob returns a job in its initial configuration state.
func NewJob(id, name string, tp JobType, userID string, now time.Time) *Job {
	return &Job{
		ID:        id,
		Name:      name,
		Type:      tp,
		UserID:    userID,
		Status:    JobConfiguration,
		Stage:     StageInitializing,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Started returns the time the current run of the job began.
func (j *Job) Started() time.Time {
	if j.RestartedAt != nil {
		return *j.RestartedAt
	}
	return j.CreatedAt
}

// LastActivity returns the time the job was last written, falling back to
// the start of its current run for rows that predate UpdatedAt.
func (j *Job) LastActivity() time.Time {
	if started := j.Started(); j.UpdatedAt.Before(started) {
		return started
	}
	return j.UpdatedAt
}

// IsActive is true while the job has neither finished nor failed.
func (j *Job) IsActive() bool {
	return j.Status != JobError && j.Status != JobFinished
}

// SetStage moves the job to a new stage and resets its progress.
func (j *Job) SetStage(stage string, maxProgress int) {
	j.Stage = stage
	j.Progress = 0
	j.MaxProgress = maxProgress
}

// SetProgress records progress, never letting it run past maxProgress.
func (j *Job) SetProgress(value, maxProgress int) {
	if maxProgress > 0 && value > maxProgress {
		value = maxProgress
	}
	j.Progress = value
	j.MaxProgress = maxProgress
}

// IncrementProgress advances progress by one unit.
func (j *Job) IncrementProgress() {
	if j.MaxProgress > 0 && j.Progress >= j.MaxProgress {
		return
	}
	j.Progress++
}

// Fail marks the job as errored. It stays terminal until Restart.
func (j *Job) Fail(reason string, now time.Time) {
	j.Status = JobError
	j.FailureReason = reason
	j.FinishedAt = &now
}

// Finish marks the job as successfully finished.
func (j *Job) Finish(now time.Time) {
	j.Status = JobFinished
	j.FailureReason = ""
	j.FinishedAt = &now
}

// Restart returns a finished or failed job to the queue under the same id.
func (j *Job) Restart(now time.Time) {
	j.Status = JobInQueue
	j.FailureReason = ""
	j.FinishedAt = nil
	j.RestartedAt = &now
}
