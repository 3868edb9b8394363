package assembly

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	bpe "github.com/Binject/debug/pe"
	"github.com/pkg/errors"

	"resextractor/internal/common"
	"resextractor/internal/pesniff"
	"resextractor/internal/progress"
)

var errFound = errors.New("found")

// Resolver locates modules that a candidate's manifest points at. Modules it loads are owned by
// the resolver and released by Close; the lifetime is one worker.
type Resolver struct {
	mu     sync.Mutex
	logger *slog.Logger
	loaded map[string]*Assembly
	owned  []*Assembly
	// MaxVisited bounds the directory walk.
	MaxVisited int
}

func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = progress.NewLogger(nil, nil)
	}
	return &Resolver{
		logger:     logger.With(progress.Stage(progress.StageResolver)),
		loaded:     make(map[string]*Assembly),
		MaxVisited: 10000,
	}
}

func (r *Resolver) Register(a *Assembly) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.Name != "" {
		if _, ok := r.loaded[strings.ToLower(a.Name)]; !ok {
			r.loaded[strings.ToLower(a.Name)] = a
		}
	}
}

// ResolveAssembly returns an already-loaded module with the given simple name, or searches the
// requesting module's directory tree for a compatible one.
func (r *Resolver) ResolveAssembly(from *Assembly, name string) (*Assembly, error) {
	r.mu.Lock()
	if a, ok := r.loaded[strings.ToLower(name)]; ok {
		r.mu.Unlock()
		return a, nil
	}
	r.mu.Unlock()

	r.logger.Info("Resolving assembly", "name", name)
	var found *Assembly
	err := r.walk(filepath.Dir(from.Path), func(path string) bool {
		base := strings.ToLower(filepath.Base(path))
		want := strings.ToLower(name)
		if base != want+".dll" && base != want+".exe" {
			return false
		}
		candidate, ok := r.compatible(path, from)
		if !ok || !strings.EqualFold(candidate.Name, name) {
			if candidate != nil {
				candidate.Close()
			}
			return false
		}
		found = candidate
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		r.logger.Warn("Unresolved assembly", "name", name)
		return nil, errors.Wrapf(ErrUnresolved, "assembly %s", name)
	}

	r.mu.Lock()
	r.owned = append(r.owned, found)
	r.loaded[strings.ToLower(found.Name)] = found
	r.mu.Unlock()
	r.logger.Info("Resolved assembly", "name", name, "path", found.Path)
	return found, nil
}

// ResolveFile finds a linked resource file next to the requesting module, or below its directory.
// The name comes from the module's File table and must be a bare file name.
func (r *Resolver) ResolveFile(from *Assembly, name string) (string, error) {
	if !plainFileName(name) {
		r.logger.Warn("Rejected linked file", "name", name)
		return "", errors.Wrapf(ErrUnresolved, "linked file %q is not a plain file name", name)
	}
	dir := filepath.Dir(from.Path)
	direct := filepath.Join(dir, name)
	if info, err := os.Stat(direct); err == nil && info.Mode().IsRegular() {
		return direct, nil
	}

	r.logger.Info("Resolving linked file", "name", name)
	var found string
	err := r.walk(dir, func(path string) bool {
		if strings.EqualFold(filepath.Base(path), name) {
			found = path
			return true
		}
		return false
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		r.logger.Warn("Unresolved linked file", "name", name)
		return "", errors.Wrapf(ErrUnresolved, "linked file %s", name)
	}
	return found, nil
}

// plainFileName rejects names that could address anything outside a directory, with either
// separator regardless of platform.
func plainFileName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\:`) {
		return false
	}
	return filepath.Base(name) == name
}

func (r *Resolver) walk(root string, match func(path string) bool) error {
	visited := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		visited++
		if r.MaxVisited > 0 && visited > r.MaxVisited {
			return fs.SkipAll
		}
		if match(path) {
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return errors.Wrapf(err, "unable to search %s", root)
	}
	return nil
}

// compatible screens the machine type from the file header before the metadata load.
func (r *Resolver) compatible(path string, from *Assembly) (*Assembly, bool) {
	if !pesniff.IsAssembly(path) {
		return nil, false
	}
	f, err := bpe.Open(path)
	if err != nil {
		return nil, false
	}
	arch := archOf(f.FileHeader.Machine, clrILOnly)
	f.Close()
	if arch == common.Unknown {
		return nil, false
	}

	candidate, err := Open(path, nil)
	if err != nil {
		return nil, false
	}
	if !candidate.Arch.Compatible(from.Arch) {
		return candidate, false
	}
	candidate.resolver = r
	return candidate, true
}

func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for _, a := range r.owned {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}
	r.owned = nil
	r.loaded = make(map[string]*Assembly)
	return err
}

// LoadedCount reports how many modules are currently known to the resolver.
func (r *Resolver) LoadedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loaded)
}
