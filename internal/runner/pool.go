// Package runner runs independent jobs with bounded concurrency.
package runner

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

type Job func(ctx context.Context) error

// RunPool executes jobs with at most maxWorkers concurrently. maxWorkers < 1
// means one worker per CPU. The first failing job cancels the context passed
// to the others and its error is returned once every started job returns.
func RunPool(ctx context.Context, maxWorkers int, jobs []Job) error {
	if maxWorkers < 1 {
		maxWorkers = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return job(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
