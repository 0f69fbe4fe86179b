package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ptmscout/internal/export"
	"github.com/dharsanguruparan/ptmscout/internal/pipeline"
	"github.com/dharsanguruparan/ptmscout/internal/queue"
)

// Importer runs import tasks.
type Importer interface {
	Start(ctx context.Context, p pipeline.Payload) error
	Run(ctx context.Context, stage string, p pipeline.Payload) error
}

// Exporter runs export tasks.
type Exporter interface {
	Export(ctx context.Context, req export.Request) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	importer Importer
	exporter Exporter
	log      zerolog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(importer Importer, exporter Exporter, log zerolog.Logger) *Processor {
	return &Processor{importer: importer, exporter: exporter, log: log}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ImportStartTask, p.handleStart)
	mux.HandleFunc(queue.ImportStageTask, p.handleStage)
	mux.HandleFunc(queue.ExportTask, p.handleExport)
	return mux
}

func decode(task *asynq.Task, v interface{}) error {
	if err := json.Unmarshal(task.Payload(), v); err != nil {
		// A payload that does not decode never will.
		return fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func (p *Processor) handleStart(ctx context.Context, task *asynq.Task) error {
	var payload pipeline.Payload
	if err := decode(task, &payload); err != nil {
		return err
	}
	p.log.Info().Str("job_id", payload.JobID).Str("experiment_id", payload.ExperimentID).Msg("starting import")
	return p.importer.Start(ctx, payload)
}

func (p *Processor) handleStage(ctx context.Context, task *asynq.Task) error {
	var payload queue.StagePayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	p.log.Info().Str("job_id", payload.JobID).Str("stage", payload.Stage).Msg("running import stage")
	return p.importer.Run(ctx, payload.Stage, payload.Payload)
}

func (p *Processor) handleExport(ctx context.Context, task *asynq.Task) error {
	var payload queue.ExportPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	p.log.Info().Str("job_id", payload.JobID).Str("experiment_id", payload.ExperimentID).Msg("exporting experiment")
	return p.exporter.Export(ctx, export.Request{
		ExperimentID: payload.ExperimentID,
		JobID:        payload.JobID,
		Annotate:     payload.Annotate,
	})
}
