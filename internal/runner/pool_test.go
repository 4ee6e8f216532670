package runner_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/autoprep/internal/runner"
)

func TestPool(t *testing.T) {
	var count atomic.Int32
	jobs := make([]runner.Job, 10)
	for i := range jobs {
		jobs[i] = func(context.Context) error {
			count.Add(1)
			return nil
		}
	}
	assert.NoError(t, runner.RunPool(context.Background(), 3, jobs))
	assert.EqualValues(t, 10, count.Load())
}

func TestPoolWithErrors(t *testing.T) {
	jobs := []runner.Job{
		func(context.Context) error { return nil },
		func(context.Context) error { return fmt.Errorf("fail") },
		func(context.Context) error { return nil },
	}
	assert.EqualError(t, runner.RunPool(context.Background(), 2, jobs), "fail")
}

func TestPoolRespectsLimit(t *testing.T) {
	var running, peak atomic.Int32
	jobs := make([]runner.Job, 12)
	for i := range jobs {
		jobs[i] = func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}
	}
	require.NoError(t, runner.RunPool(context.Background(), 2, jobs))
	assert.LessOrEqual(t, peak.Load(), int32(2), "concurrent jobs")
}

func TestPoolFailureCancelsOthers(t *testing.T) {
	boom := errors.New("boom")
	jobs := []runner.Job{
		func(context.Context) error { return boom },
		func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return errors.New("not cancelled")
			}
		},
	}
	assert.ErrorIs(t, runner.RunPool(context.Background(), 2, jobs), boom)
}

func TestPoolCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var count atomic.Int32
	jobs := []runner.Job{func(context.Context) error { count.Add(1); return nil }}
	assert.ErrorIs(t, runner.RunPool(ctx, 1, jobs), context.Canceled)
	assert.Zero(t, count.Load(), "no job should run")
}
