package interlock

import (
	"sync"

	"github.com/google/uuid"
)

type Event struct {
	Role    uuid.UUID
	Acquire bool
}

// Recorder is an in-memory Provider that logs every acquire and release, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	locks  map[uuid.UUID]*recordingLocker
}

func NewRecorder() *Recorder {
	return &Recorder{locks: make(map[uuid.UUID]*recordingLocker)}
}

func (r *Recorder) Locker(role uuid.UUID) Locker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.locks[role]; ok {
		return l
	}
	l := &recordingLocker{role: role, rec: r}
	r.locks[role] = l
	return l
}

func (r *Recorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Balanced reports whether every acquire of every role was followed by its release.
func (r *Recorder) Balanced() bool {
	held := map[uuid.UUID]int{}
	for _, e := range r.Events() {
		if e.Acquire {
			held[e.Role]++
		} else {
			held[e.Role]--
		}
		if held[e.Role] < 0 || held[e.Role] > 1 {
			return false
		}
	}
	for _, n := range held {
		if n != 0 {
			return false
		}
	}
	return true
}

func (r *Recorder) Count(role uuid.UUID) int {
	n := 0
	for _, e := range r.Events() {
		if e.Role == role && e.Acquire {
			n++
		}
	}
	return n
}

type recordingLocker struct {
	role uuid.UUID
	rec  *Recorder
	mu   sync.Mutex
}

func (l *recordingLocker) Lock() error {
	l.mu.Lock()
	l.rec.record(Event{Role: l.role, Acquire: true})
	return nil
}

func (l *recordingLocker) Unlock() error {
	l.rec.record(Event{Role: l.role})
	l.mu.Unlock()
	return nil
}
