package model

import "time"

// SessionStage is the current step of the upload wizard.
type SessionStage string

const (
	StageConfig    SessionStage = "config"
	StageMetadata  SessionStage = "metadata"
	StageCondition SessionStage = "condition"
	StageConfirm   SessionStage = "confirm"
	StageComplete  SessionStage = "complete"
)

// ResourceType is what an upload session ultimately populates.
type ResourceType string

const (
	ResourceExperiment  ResourceType = "experiment"
	ResourceAnnotations ResourceType = "annotations"
	ResourceDataset     ResourceType = "dataset"
)

// LoadType selects how an upload relates to existing experiments.
type LoadType string

const (
	LoadNew       LoadType = "new"
	LoadReload    LoadType = "reload"
	LoadAppend    LoadType = "append"
	LoadExtension LoadType = "extension"
)

// UploadSession is one in-progress or completed upload wizard instance.
type UploadSession struct {
	ID                string       `json:"id"`
	UserID            string       `json:"userId"`
	DataFile          string       `json:"dataFile"`
	ResourceType      ResourceType `json:"resourceType"`
	LoadType          LoadType     `json:"loadType"`
	ParentExperiment  *string      `json:"parentExperiment,omitempty"`
	ChangeName        string       `json:"changeName,omitempty"`
	ChangeDescription string       `json:"changeDescription,omitempty"`
	Units             string       `json:"units"`
	Stage             SessionStage `json:"stage"`
	ExperimentID      *string      `json:"experimentId,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	Columns           []Column     `json:"columns"`
}

// ColumnsOfType is a shorthand for ColumnsOfType(s.Columns, t).
func (s *UploadSession) ColumnsOfType(t ColumnType) []Column {
	return ColumnsOfType(s.Columns, t)
}
