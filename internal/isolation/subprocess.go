package isolation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"resextractor/internal/progress"
	"resextractor/internal/worker"
)

// maxLine bounds one protocol message. Longer lines are dropped whole.
var maxLine = 16 << 20

// Subprocess re-executes a binary that answers the protocol implemented by Serve, one process
// per job.
type Subprocess struct {
	// Executable defaults to the running binary.
	Executable string
	Args       []string
	Env        []string
	// Timeout bounds one job's wall clock; zero means unbounded.
	Timeout time.Duration
	Sink    progress.Sink
	Logger  *slog.Logger
}

func (s *Subprocess) Run(ctx context.Context, job worker.Job) (worker.Result, error) {
	exe := s.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return worker.Result{}, errors.Wrap(err, "unable to locate worker executable")
		}
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(progress.Candidate(job.File))

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	input, err := json.Marshal(job)
	if err != nil {
		return worker.Result{}, errors.Wrap(err, "unable to encode job")
	}

	cmd := exec.CommandContext(ctx, exe, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return worker.Result{}, errors.Wrap(err, "unable to attach to worker output")
	}
	if err = cmd.Start(); err != nil {
		return worker.Result{}, errors.Wrapf(err, "unable to start worker %s", exe)
	}

	var result *worker.Result
	signals := 0
	reader := bufio.NewReaderSize(stdout, 64<<10)
	for {
		line, tooLong, readErr := readLine(reader, maxLine)
		var msg Message
		switch {
		case tooLong:
			logger.Warn("oversized worker output dropped")
		case len(line) == 0:
		case json.Unmarshal(line, &msg) != nil:
			logger.Debug("unparseable worker output", "line", string(line))
		default:
			if msg.Line != "" && s.Sink != nil {
				s.Sink(msg.Line)
			}
			if msg.Result != nil {
				signals++
				result = msg.Result
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				logger.Debug("worker output unreadable", "error", readErr)
				io.Copy(io.Discard, stdout)
			}
			break
		}
	}
	waitErr := cmd.Wait()
	logger.Debug("Worker torn down: "+job.File, progress.Stage(progress.StageTornDown))

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return worker.Result{File: job.File}, errors.Wrapf(ErrIsolation, "%s timed out after %s", job.File, s.Timeout)
	case signals == 0:
		return worker.Result{File: job.File}, errors.Wrapf(ErrIsolation, "%s: no completion signal (%v) %s",
			job.File, waitErr, strings.TrimSpace(stderr.String()))
	case signals > 1:
		return worker.Result{File: job.File}, errors.Wrapf(ErrIsolation, "%s: %d completion signals", job.File, signals)
	}
	if waitErr != nil {
		logger.Debug("worker exited abnormally after completing", "error", waitErr)
	}
	return *result, nil
}

// readLine returns the next newline-terminated line without its terminator. A line longer than
// limit is consumed and reported as tooLong with no content.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, rerr := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if rerr == bufio.ErrBufferFull {
			continue
		}
		return bytes.TrimRight(line, "\r\n"), tooLong, rerr
	}
}
