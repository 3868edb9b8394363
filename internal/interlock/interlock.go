// Package interlock provides named locks that serialize a critical section across every
// goroutine and every process taking part in one extraction run.
package interlock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Fixed role identifiers; every process in a run derives the same lock from them.
var (
	UniqueName     = uuid.MustParse("9A865212-2C22-4DA8-82D8-AD77BB6D061D")
	DuplicateFixup = uuid.MustParse("DEA5D562-AA9A-47D3-9D6D-8CA20B2CC25C")
	Ledger         = uuid.MustParse("FCD8FB19-0EA6-4A10-A2AF-9E023E9BBD22")
)

type Locker interface {
	Lock() error
	Unlock() error
}

type Provider interface {
	Locker(role uuid.UUID) Locker
}

// Do runs fn while holding l and always releases it, also when fn panics.
func Do(l Locker, fn func() error) (err error) {
	if err = l.Lock(); err != nil {
		return err
	}
	defer func() {
		if uerr := l.Unlock(); err == nil {
			err = uerr
		}
	}()
	return fn()
}

// FileProvider backs each role with an OS file lock in Dir.
type FileProvider struct {
	Dir string

	mu    sync.Mutex
	locks map[uuid.UUID]*fileLocker
}

func NewFileProvider(dir string) *FileProvider {
	if dir == "" {
		dir = os.TempDir()
	}
	return &FileProvider{Dir: dir, locks: make(map[uuid.UUID]*fileLocker)}
}

func (p *FileProvider) Locker(role uuid.UUID) Locker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.locks[role]; ok {
		return l
	}
	l := &fileLocker{path: filepath.Join(p.Dir, fmt.Sprintf("resextractor-%s.lock", role))}
	p.locks[role] = l
	return l
}

// fileLocker pairs an in-process mutex with the OS lock, which only excludes other processes
// on some platforms.
type fileLocker struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

func (l *fileLocker) Lock() error {
	l.mu.Lock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		l.mu.Unlock()
		return errors.Wrapf(err, "unable to open lock file %s", l.path)
	}
	if err = lockFile(f); err != nil {
		f.Close()
		l.mu.Unlock()
		return errors.Wrapf(err, "unable to lock %s", l.path)
	}
	l.f = f
	return nil
}

func (l *fileLocker) Unlock() error {
	f := l.f
	if f == nil {
		return errors.New("unlock of unlocked interlock")
	}
	l.f = nil
	defer l.mu.Unlock()
	err := unlockFile(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
