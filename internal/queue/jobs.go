// Package queue turns import and export requests into asynq tasks.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ptmscout/internal/pipeline"
	"github.com/dharsanguruparan/ptmscout/internal/session"
)

const (
	// ImportStartTask parses a confirmed upload and dispatches its first stage.
	ImportStartTask = "import:start"
	// ImportStageTask runs one stage of an import.
	ImportStageTask = "import:stage"
	// ExportTask writes an experiment to a downloadable file.
	ExportTask = "experiment:export"
)

// StagePayload is serialized into an ImportStageTask.
type StagePayload struct {
	Stage string `json:"stage"`
	pipeline.Payload
}

// ExportPayload is serialized into an ExportTask.
type ExportPayload struct {
	ExperimentID string `json:"experiment_id"`
	JobID        string `json:"job_id"`
	Annotate     bool   `json:"annotate"`
}

// Enqueuer is the part of *asynq.Client the queue uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client enqueues ptmscout tasks.
type Client struct {
	enq Enqueuer
	log zerolog.Logger
}

// NewClient wraps an asynq client.
func NewClient(enq Enqueuer, log zerolog.Logger) *Client {
	return &Client{enq: enq, log: log}
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	info, err := c.enq.EnqueueContext(ctx, task, asynq.MaxRetry(5))
	if err != nil {
		return fmt.Errorf("enqueue %s task: %w", taskType, err)
	}
	if info != nil {
		c.log.Debug().Str("task", taskType).Str("task_id", info.ID).Msg("task enqueued")
	}
	return nil
}

// StartImport enqueues the start of a confirmed upload.
func (c *Client) StartImport(ctx context.Context, req session.ImportRequest) error {
	return c.enqueue(ctx, ImportStartTask, pipeline.Payload{
		ExperimentID: req.ExperimentID,
		SessionID:    req.SessionID,
		JobID:        req.JobID,
	})
}

// Dispatch enqueues one import stage.
func (c *Client) Dispatch(ctx context.Context, stage string, p pipeline.Payload) error {
	return c.enqueue(ctx, ImportStageTask, StagePayload{Stage: stage, Payload: p})
}

// EnqueueExport enqueues an experiment export.
func (c *Client) EnqueueExport(ctx context.Context, p ExportPayload) error {
	return c.enqueue(ctx, ExportTask, p)
}
