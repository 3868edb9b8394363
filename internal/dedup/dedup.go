package dedup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"

	"resextractor/internal/interlock"
	"resextractor/internal/naming"
)

// TempPrefix starts the placeholder extension given to files whose type is not known yet.
const TempPrefix = ".bin-"

// window is how many "(NN)" siblings a written file is compared against.
const window = 9

// TempExtension returns a fresh placeholder extension.
func TempExtension() string {
	return fmt.Sprintf("%s%08X", TempPrefix, uint32(time.Now().UnixNano()/int64(time.Millisecond)))
}

func IsTemp(ext string) bool {
	return strings.HasPrefix(strings.ToLower(ext), TempPrefix)
}

// Sniffer names the extension for a file's content.
type Sniffer func(path string) (string, error)

type Outcome struct {
	// Path is where the content now lives: the kept file, or the sibling it duplicated.
	Path      string
	Duplicate bool
}

// Deduplicator settles freshly written files: gives placeholder files their real extension and
// drops files whose byte length equals a same-named sibling's. Content is never compared, so two
// different payloads of equal size collapse into one.
type Deduplicator struct {
	locks  interlock.Provider
	alloc  *naming.Allocator
	sniff  Sniffer
	logger *slog.Logger
}

func New(locks interlock.Provider, alloc *naming.Allocator, sniff Sniffer, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Deduplicator{locks: locks, alloc: alloc, sniff: sniff, logger: logger}
}

func (d *Deduplicator) Fixup(written string) (Outcome, error) {
	dir, base, ext := naming.Split(written)
	temp := IsTemp(ext)

	finalExt := ext
	if temp {
		sniffed, err := d.sniff(written)
		if err != nil {
			return Outcome{}, errors.Wrapf(err, "unable to sniff %s", written)
		}
		finalExt = sniffed
	}
	base = naming.StripVersion(base)

	var outcome Outcome
	err := interlock.Do(d.locks.Locker(interlock.DuplicateFixup), func() error {
		var err error
		outcome, err = d.fixup(written, dir, base, finalExt, temp)
		return err
	})
	return outcome, err
}

func (d *Deduplicator) fixup(written, dir, base, ext string, temp bool) (Outcome, error) {
	resting := written
	if temp {
		reserved, err := d.alloc.Reserve(naming.Versioned(dir, base, 0, ext))
		if err != nil {
			return Outcome{}, err
		}
		resting = reserved
	}

	info, err := os.Stat(written)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "unable to stat %s", written)
	}
	size := info.Size()

	for n := 0; n <= window; n++ {
		sibling := naming.Versioned(dir, base, n, ext)
		if samePath(sibling, written) || samePath(sibling, resting) {
			continue
		}
		other, err := os.Stat(sibling)
		if err != nil || !other.Mode().IsRegular() {
			continue
		}
		if other.Size() != size {
			continue
		}

		d.logger.Debug("duplicate", "file", written, "of", sibling)
		if temp {
			os.Remove(resting)
		}
		if err = os.Remove(written); err != nil {
			return Outcome{}, errors.Wrapf(err, "unable to remove duplicate %s", written)
		}
		return Outcome{Path: sibling, Duplicate: true}, nil
	}

	if temp && !samePath(written, resting) {
		if err = os.Rename(written, resting); err != nil {
			return Outcome{}, errors.Wrapf(err, "unable to move %s to %s", written, resting)
		}
	}
	return Outcome{Path: resting}, nil
}

func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}
