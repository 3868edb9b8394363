package dispatch

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"resextractor/internal/pesniff"
)

// DefaultMaxPath is the longest candidate path accepted.
var DefaultMaxPath = func() int {
	if runtime.GOOS == "windows" {
		return 260
	}
	return 4096
}()

// Rejection names the filter a candidate failed. The empty value means accepted.
type Rejection string

const (
	Accepted      Rejection = ""
	RejectPath    Rejection = "path too long"
	RejectTrash   Rejection = "recycle bin"
	RejectNoExt   Rejection = "no extension"
	RejectLog     Rejection = "log file"
	RejectMissing Rejection = "unreadable"
	RejectNotAsm  Rejection = "not an assembly"
	RejectSeen    Rejection = "duplicate identity"
)

// RunState is shared by every worker of one run.
type RunState struct {
	seen      sync.Map
	extracted atomic.Int64
	accepted  atomic.Int64
}

// See records a candidate identity and reports whether it was new.
func (s *RunState) See(key string) bool {
	_, loaded := s.seen.LoadOrStore(key, struct{}{})
	return !loaded
}

func (s *RunState) Extracted() int {
	return int(s.extracted.Load())
}

func (s *RunState) Accepted() int {
	return int(s.accepted.Load())
}

// IdentityKey is a candidate's file name, case folded, plus its length.
func IdentityKey(path string, size int64) string {
	return strings.ToLower(filepath.Base(path)) + "|" + strconv.FormatInt(size, 10)
}

func inTrash(path string) bool {
	slashed := filepath.ToSlash(path)
	if strings.Contains(slashed, "/$") {
		return true
	}
	lower := strings.ToLower(slashed)
	return strings.Contains(lower, "/.trash/") || strings.Contains(lower, "/.trash-") ||
		strings.Contains(lower, "/.local/share/trash/")
}

// Admit runs the candidate filters in order and stops at the first that rejects.
func (s *RunState) Admit(path string, maxPath int) Rejection {
	if maxPath <= 0 {
		maxPath = DefaultMaxPath
	}
	if len(path) > maxPath {
		return RejectPath
	}
	if inTrash(path) {
		return RejectTrash
	}
	ext := filepath.Ext(path)
	if ext == "" {
		return RejectNoExt
	}
	if strings.EqualFold(ext, ".log") {
		return RejectLog
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return RejectMissing
	}
	if !pesniff.IsAssembly(path) {
		return RejectNotAsm
	}
	if !s.See(IdentityKey(path, info.Size())) {
		return RejectSeen
	}
	return Accepted
}
