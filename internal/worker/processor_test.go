package worker

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ptmscout/internal/export"
	"github.com/dharsanguruparan/ptmscout/internal/pipeline"
	"github.com/dharsanguruparan/ptmscout/internal/queue"
)

type recorder struct {
	started []pipeline.Payload
	stages  []string
	exports []export.Request
}

func (r *recorder) Start(_ context.Context, p pipeline.Payload) error {
	r.started = append(r.started, p)
	return nil
}

func (r *recorder) Run(_ context.Context, stage string, _ pipeline.Payload) error {
	r.stages = append(r.stages, stage)
	return nil
}

func (r *recorder) Export(_ context.Context, req export.Request) error {
	r.exports = append(r.exports, req)
	return nil
}

func TestHandler(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	mux := NewProcessor(rec, rec, zerolog.Nop()).Handler()

	tasks := []*asynq.Task{
		asynq.NewTask(queue.ImportStartTask, []byte(`{"experiment_id":"e1","session_id":"s1","job_id":"j1"}`)),
		asynq.NewTask(queue.ImportStageTask, []byte(`{"stage":"GO terms","experiment_id":"e1","session_id":"s1","job_id":"j1"}`)),
		asynq.NewTask(queue.ExportTask, []byte(`{"experiment_id":"e1","job_id":"j2","annotate":true}`)),
	}
	for _, task := range tasks {
		require.NoError(t, mux.ProcessTask(ctx, task))
	}

	assert.Equal(t, []pipeline.Payload{{ExperimentID: "e1", SessionID: "s1", JobID: "j1"}}, rec.started)
	assert.Equal(t, []string{pipeline.StageGOTerms}, rec.stages)
	assert.Equal(t, []export.Request{{ExperimentID: "e1", JobID: "j2", Annotate: true}}, rec.exports)

	err := mux.ProcessTask(ctx, asynq.NewTask(queue.ImportStageTask, []byte(`{`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
