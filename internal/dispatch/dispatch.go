// Package dispatch turns a source specification into isolated extraction jobs and counts the
// candidates that produced resources.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"

	"resextractor/internal/isolation"
	"resextractor/internal/progress"
	"resextractor/internal/worker"
)

// Outcome describes one accepted candidate after its worker finished.
type Outcome struct {
	Path     string
	Result   worker.Result
	Err      error
	Duration time.Duration
}

type Dispatcher struct {
	Isolator        isolation.Isolator
	Parallelism     int
	MaxPath         int
	StringThreshold int
	Logger          *slog.Logger
	// OnOutcome is called from worker goroutines, concurrently.
	OnOutcome func(Outcome)
	// OnReject, when set, sees every filtered-out candidate.
	OnReject func(path string, why Rejection)
}

func (d *Dispatcher) parallelism() int {
	if d.Parallelism > 0 {
		return d.Parallelism
	}
	return runtime.NumCPU()
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.Logger
}

// DoWork extracts every candidate named by spec into dest and returns how many yielded at least
// one resource. Cancelling ctx stops further submissions; candidates already running finish.
// Only a destination that cannot be created is an error.
func (d *Dispatcher) DoWork(ctx context.Context, spec, dest string, separate bool) (int, error) {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to resolve %s", dest)
	}
	if err = os.MkdirAll(dest, 0o755); err != nil {
		return 0, errors.Wrapf(err, "unable to create destination %s", dest)
	}

	state := &RunState{}
	p := pool.New().WithMaxGoroutines(d.parallelism())
	for path := range Resolve(ctx, spec) {
		if ctx.Err() != nil {
			break
		}
		p.Go(func() {
			d.candidate(ctx, state, worker.Job{
				File:            path,
				Dest:            dest,
				SeparateFolders: separate,
				StringThreshold: d.StringThreshold,
			})
		})
	}
	p.Wait()
	return state.Extracted(), nil
}

// candidate filters and runs one job. Nothing escapes it: failures are logged against the
// candidate and count as no resources.
func (d *Dispatcher) candidate(ctx context.Context, state *RunState, job worker.Job) {
	logger := d.logger().With(progress.Candidate(job.File))

	if why := state.Admit(job.File, d.MaxPath); why != Accepted {
		logger.Debug("skipped: "+string(why), progress.Stage(progress.StageProcessing))
		if d.OnReject != nil {
			d.OnReject(job.File, why)
		}
		return
	}
	state.accepted.Add(1)

	start := time.Now()
	outcome := Outcome{Path: job.File}
	defer func() {
		if r := recover(); r != nil {
			outcome.Err = errors.Errorf("panic: %v", r)
			logger.Error(fmt.Sprintf("ERROR: DoWork: %q %v", job.File, outcome.Err), progress.Stage(progress.StageDispatch))
		}
		if outcome.Result.HasResources {
			state.extracted.Add(1)
		}
		outcome.Duration = time.Since(start)
		if d.OnOutcome != nil {
			d.OnOutcome(outcome)
		}
	}()

	logger.Info("Processing "+job.File, progress.Stage(progress.StageProcessing))
	result, err := d.Isolator.Run(context.WithoutCancel(ctx), job)
	outcome.Result = result
	outcome.Err = err
	if err != nil {
		logger.Error(fmt.Sprintf("ERROR: DoWork: %q %v", job.File, err), progress.Stage(progress.StageDispatch))
	}
}
