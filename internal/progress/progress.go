// Package progress renders log records as the "<ID>-<SS> text" lines the caller's callback receives.
package progress

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
)

const (
	StageProcessing  = 0
	StageLoading     = 1
	StageNoResources = 2
	StageExtracting  = 3
	StageUnhandled   = 4
	StageWorkerError = 5
	StageResolver    = 79
	StagePanic       = 80
	StageExiting     = 81
	StageTornDown    = 82
	StageDispatch    = 99
)

const (
	idKey    = "id"
	stageKey = "stage"
)

// Sink receives one formatted progress line. Implementations must be safe for concurrent use.
type Sink func(line string)

func Discard(string) {}

// Tee fans a line out to every non-nil sink.
func Tee(sinks ...Sink) Sink {
	return func(line string) {
		for _, s := range sinks {
			if s != nil {
				s(line)
			}
		}
	}
}

// CorrelationID is the 8 hex digit identifier stamped on every line about one candidate.
func CorrelationID(path string) string {
	h := fnv.New32a()
	h.Write([]byte(path))
	return fmt.Sprintf("%08X", h.Sum32())
}

func Stage(stage int) slog.Attr {
	return slog.Int(stageKey, stage)
}

func Candidate(path string) slog.Attr {
	return slog.String(idKey, CorrelationID(path))
}

func ID(id string) slog.Attr {
	return slog.String(idKey, id)
}

// Format builds a progress line by hand, for callers that are not logging.
func Format(id string, stage int, text string) string {
	return fmt.Sprintf("%s-%02d %s", id, stage, text)
}

type Handler struct {
	sink   Sink
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
	mu     *sync.Mutex
}

func NewHandler(sink Sink, level slog.Leveler) *Handler {
	if sink == nil {
		sink = Discard
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{sink: sink, level: level, mu: &sync.Mutex{}}
}

// NewLogger is shorthand for a logger writing through a fresh Handler.
func NewLogger(sink Sink, level slog.Leveler) *slog.Logger {
	return slog.New(NewHandler(sink, level))
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	id := "00000000"
	stage := -1
	var extra []string

	visit := func(a slog.Attr) bool {
		switch a.Key {
		case idKey:
			id = a.Value.String()
		case stageKey:
			stage = int(a.Value.Int64())
		default:
			if a.Key != "" {
				key := a.Key
				if len(h.groups) > 0 {
					key = strings.Join(h.groups, ".") + "." + key
				}
				extra = append(extra, fmt.Sprintf("%s=%v", key, a.Value.Any()))
			}
		}
		return true
	}
	for _, a := range h.attrs {
		visit(a)
	}
	r.Attrs(visit)

	if stage < 0 {
		stage = StageProcessing
		if r.Level >= slog.LevelError {
			stage = StageWorkerError
		}
	}

	text := r.Message
	if len(extra) > 0 {
		text += " " + strings.Join(extra, " ")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink(Format(id, stage, text))
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}
