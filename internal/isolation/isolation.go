// Package isolation runs one worker per candidate so that a crash or a hang while decoding an
// untrusted file is confined to that candidate.
package isolation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"

	"resextractor/internal/interlock"
	"resextractor/internal/progress"
	"resextractor/internal/worker"
)

// ErrIsolation reports a worker that did not finish the protocol: it crashed, timed out, or
// signalled completion zero or several times.
var ErrIsolation = errors.New("isolated worker failed")

type Isolator interface {
	Run(ctx context.Context, job worker.Job) (worker.Result, error)
}

// Message is one line of the worker's output stream. Exactly one field is set.
type Message struct {
	Line   string         `json:"line,omitempty"`
	Result *worker.Result `json:"result,omitempty"`
}

// lineWriter serializes messages onto a shared stream.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *lineWriter) send(m Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(m)
}

// Serve is the worker side of the subprocess protocol: it reads one job from r, streams progress
// lines to out and finishes with a single result message.
func Serve(ctx context.Context, r io.Reader, out io.Writer, locks interlock.Provider, level slog.Leveler) error {
	var job worker.Job
	if err := json.NewDecoder(r).Decode(&job); err != nil {
		return errors.Wrap(err, "unable to read job")
	}

	w := &lineWriter{enc: json.NewEncoder(out)}
	sink := func(line string) {
		w.send(Message{Line: line})
	}
	logger := progress.NewLogger(sink, level)

	result := runRecovered(ctx, worker.New(locks, logger), job, logger)
	if ctx.Err() != nil {
		logger.Warn("Parent process exiting: unloading "+job.File,
			progress.Candidate(job.File), progress.Stage(progress.StageExiting))
	}
	return w.send(Message{Result: &result})
}

// runRecovered turns a panic inside the worker into a failed result.
func runRecovered(ctx context.Context, w *worker.Worker, job worker.Job, logger *slog.Logger) (result worker.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("Unhandled exception: %v", r),
				progress.Candidate(job.File), progress.Stage(progress.StagePanic))
			logger.Debug(string(debug.Stack()), progress.Candidate(job.File), progress.Stage(progress.StagePanic))
			result = worker.Result{File: job.File, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return w.Extract(ctx, job)
}
