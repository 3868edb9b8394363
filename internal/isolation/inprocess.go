package isolation

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"resextractor/internal/interlock"
	"resextractor/internal/progress"
	"resextractor/internal/worker"
)

// InProcess runs each job on its own goroutine with panic recovery. It confines panics but not
// hangs: a timed-out goroutine is abandoned, not stopped.
type InProcess struct {
	Locks   interlock.Provider
	Logger  *slog.Logger
	Timeout time.Duration
}

func (p *InProcess) Run(ctx context.Context, job worker.Job) (worker.Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	done := make(chan worker.Result, 1)
	go func() {
		done <- runRecovered(ctx, worker.New(p.Locks, logger), job, logger)
	}()

	select {
	case result := <-done:
		logger.Debug("Worker torn down: "+job.File, progress.Candidate(job.File), progress.Stage(progress.StageTornDown))
		return result, nil
	case <-ctx.Done():
		return worker.Result{File: job.File}, errors.Wrapf(ErrIsolation, "%s: %v", job.File, ctx.Err())
	}
}
