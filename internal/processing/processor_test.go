package processing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRun(t *testing.T) {
	t.Run("Should run every task within the worker bound", func(t *testing.T) {
		var running, peak int32
		tasks := make([]Task, 20)
		for i := range tasks {
			tasks[i] = Task{Key: fmt.Sprintf("t%d", i), Run: func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			}}
		}

		seen := map[string]bool{}
		err := New(3, zerolog.Nop()).Run(context.Background(), tasks, func(r Result) {
			assert.NoError(t, r.Err)
			seen[r.Key] = true
		})
		require.NoError(t, err)
		assert.Len(t, seen, 20)
		assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	})

	t.Run("Should report task errors", func(t *testing.T) {
		boom := errors.New("boom")
		tasks := []Task{
			{Key: "ok", Run: func(context.Context) error { return nil }},
			{Key: "bad", Run: func(context.Context) error { return boom }},
		}
		failed := map[string]error{}
		require.NoError(t, New(0, zerolog.Nop()).Run(context.Background(), tasks, func(r Result) {
			if r.Err != nil {
				failed[r.Key] = r.Err
			}
		}))
		assert.Equal(t, map[string]error{"bad": boom}, failed)
	})

	t.Run("Should stop on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		tasks := []Task{{Key: "never", Run: func(context.Context) error {
			time.Sleep(time.Second)
			return nil
		}}}
		err := New(1, zerolog.Nop()).Run(ctx, tasks, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
