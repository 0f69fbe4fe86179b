// Package processing runs bounded batches of background work. A fixed set of
// goroutines drains a buffered channel of tasks so the number of concurrent
// requests against the external protein databases stays capped.
package processing

import (
	"context"

	"github.com/rs/zerolog"
)

// Task is one unit of work. Key identifies it in logs and results.
type Task struct {
	Key string
	Run func(ctx context.Context) error
}

// Result reports how a Task ended.
type Result struct {
	Key string
	Err error
}

// Pool runs Tasks on a fixed number of workers.
type Pool struct {
	workers int
	log     zerolog.Logger
}

// New builds a Pool with the given worker count.
func New(workers int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{workers: workers, log: log}
}

// Run executes tasks and calls done once per task, always from the calling
// goroutine, as results arrive. It returns ctx.Err() if the context closes
// before every task has reported; tasks not yet started are then skipped.
func (p *Pool) Run(ctx context.Context, tasks []Task, done func(Result)) error {
	if len(tasks) == 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The queue holds a few tasks per worker so feeding never blocks for long.
	queue := make(chan Task, p.workers*4)
	results := make(chan Result, len(tasks))

	workers := p.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		go p.worker(ctx, queue, results)
	}
	go func() {
		defer close(queue)
		for _, t := range tasks {
			select {
			case <-ctx.Done():
				return
			case queue <- t:
			}
		}
	}()

	for i := 0; i < len(tasks); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-results:
			if r.Err != nil {
				p.log.Warn().Str("task", r.Key).Err(r.Err).Msg("task failed")
			}
			if done != nil {
				done(r)
			}
		}
	}
	return ctx.Err()
}

func (p *Pool) worker(ctx context.Context, queue <-chan Task, results chan<- Result) {
	for t := range queue {
		if ctx.Err() != nil {
			results <- Result{Key: t.Key, Err: ctx.Err()}
			continue
		}
		results <- Result{Key: t.Key, Err: t.Run(ctx)}
	}
}
