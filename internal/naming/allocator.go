package naming

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"resextractor/internal/interlock"
)

var ErrAllocationExhausted = errors.New("unable to allocate a unique file name")

// createFile opens placeholders; tests replace it to inject transient failures.
var createFile = os.OpenFile

const (
	defaultAttempts = 10
	defaultBackoff  = 50 * time.Millisecond
	maxVersion      = 9999
)

// Allocator reserves collision-free paths by creating them empty. Callers then overwrite the
// placeholder.
type Allocator struct {
	locks    interlock.Provider
	logger   *slog.Logger
	Attempts int
	Backoff  time.Duration
}

func NewAllocator(locks interlock.Provider, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Allocator{locks: locks, logger: logger, Attempts: defaultAttempts, Backoff: defaultBackoff}
}

// Reserve returns suggested itself if free, otherwise the first free "(NN)" sibling.
// The returned path exists as an empty file when Reserve returns.
func (a *Allocator) Reserve(suggested string) (string, error) {
	var reserved string
	err := interlock.Do(a.locks.Locker(interlock.UniqueName), func() error {
		var err error
		reserved, err = a.reserve(suggested)
		return err
	})
	return reserved, err
}

func (a *Allocator) reserve(suggested string) (string, error) {
	path, err := filepath.Abs(suggested)
	if err != nil {
		return "", errors.Wrapf(err, "unable to resolve %s", suggested)
	}
	dir, base, ext := Split(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "unable to create %s", dir)
	}

	for attempt := 0; attempt < a.Attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(a.Backoff)
		}
		candidate, retry, err := a.probe(dir, base, ext, path)
		if err == nil {
			return candidate, nil
		}
		if !retry {
			return "", err
		}
		a.logger.Debug("name allocation retry", "path", path, "attempt", attempt+1, "error", err)
	}
	return "", errors.Wrapf(ErrAllocationExhausted, "%s after %d attempts", suggested, a.Attempts)
}

// probe walks path, base(01), base(02), ... and creates the first that does not exist.
// retry reports a transient failure after which the whole probe should restart.
func (a *Allocator) probe(dir, base, ext, path string) (string, bool, error) {
	candidate := path
	if _, err := os.Lstat(candidate); err == nil {
		base = StripVersion(base)
		candidate = ""
		for n := 1; n <= maxVersion; n++ {
			next := Versioned(dir, base, n, ext)
			if _, err := os.Lstat(next); os.IsNotExist(err) {
				candidate = next
				break
			}
		}
		if candidate == "" {
			return "", false, errors.Wrapf(ErrAllocationExhausted, "no free version of %s", path)
		}
	}

	f, err := createFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) || isSharingViolation(err) {
			return "", true, err
		}
		return "", false, errors.Wrapf(err, "unable to create %s", candidate)
	}
	if err = f.Close(); err != nil {
		return "", false, errors.Wrapf(err, "unable to close %s", candidate)
	}
	return candidate, false, nil
}
