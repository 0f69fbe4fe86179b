package model

import "time"

// ConditionType enumerates the experimental condition kinds.
type ConditionType string

const (
	ConditionCell        ConditionType = "cell"
	ConditionTissue      ConditionType = "tissue"
	ConditionDrug        ConditionType = "drug"
	ConditionStimulus    ConditionType = "stimulus"
	ConditionEnvironment ConditionType = "environment"
)

// Valid reports whether t is a known condition type.
func (t ConditionType) Valid() bool {
	switch t {
	case ConditionCell, ConditionTissue, ConditionDrug, ConditionStimulus, ConditionEnvironment:
		return true
	}
	return false
}

// Condition is one (type, value) experimental condition pair.
type Condition struct {
	Type  ConditionType `json:"type"`
	Value string        `json:"value"`
}

// Experiment is the entity an upload populates. Its status and loading
// stage are derived from the associated Job, which callers pass in.
type Experiment struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	Author          string       `json:"author,omitempty"`
	ContactName     string       `json:"contactName,omitempty"`
	ContactEmail    string       `json:"contactEmail,omitempty"`
	URL             string       `json:"url,omitempty"`
	Published       bool         `json:"published"`
	// Ambiguity records the submitter's choice shown on the metadata form.
	// Peptides are always assigned to the protein of their row.
	Ambiguity       bool         `json:"ambiguity"`
	Journal         string       `json:"journal,omitempty"`
	PublicationYear int          `json:"publicationYear,omitempty"`
	Volume          string       `json:"volume,omitempty"`
	Pages           string       `json:"pages,omitempty"`
	PMID            string       `json:"pmid,omitempty"`
	Type            ResourceType `json:"type"`
	ParentID        *string      `json:"parentId,omitempty"`
	JobID           *string      `json:"jobId,omitempty"`
	OwnerID         string       `json:"ownerId"`
	Conditions      []Condition  `json:"conditions,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// Status reports the experiment's load status from its job.
func (e *Experiment) Status(job *Job) JobStatus {
	if job == nil {
		return JobConfiguration
	}
	return job.Status
}

// LoadingStage reports the pipeline stage recorded on the job.
func (e *Experiment) LoadingStage(job *Job) string {
	if job == nil {
		return ""
	}
	return job.Stage
}

// Ready is true once the load job has finished.
func (e *Experiment) Ready(job *Job) bool {
	return job != nil && job.Status == JobFinished
}

// ExperimentError is one rejected data-file line recorded during import.
type ExperimentError struct {
	ID           int64  `json:"id"`
	ExperimentID string `json:"experimentId"`
	Line         int    `json:"line"`
	Accession    string `json:"accession"`
	Peptide      string `json:"peptide"`
	Message      string `json:"message"`
}
