package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resextractor/internal/testutil/fixture"
	"resextractor/internal/worker"
)

// fakeIsolator answers from a function and tracks concurrency.
type fakeIsolator struct {
	run     func(job worker.Job) (worker.Result, error)
	active  atomic.Int32
	maxSeen atomic.Int32
	calls   atomic.Int32
}

func (f *fakeIsolator) Run(_ context.Context, job worker.Job) (worker.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	f.calls.Add(1)
	if f.run == nil {
		return worker.Result{File: job.File, HasResources: true}, nil
	}
	return f.run(job)
}

func writeAssembly(t *testing.T, path, name string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, fixture.NewAssembly(name).WithResource(name+".txt", []byte(name)).WriteFile(path))
	return path
}

func collect(ctx context.Context, spec string) []string {
	var paths []string
	for p := range Resolve(ctx, spec) {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func TestWildcardPattern(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		matches bool
	}{
		{"*.dll", "/in/App.dll", true},
		{"*.dll", `C:\in\App.dll`, true},
		{"*.dll", "/in/App.dll.bak", false},
		{"*.dll", "/in/App.exe", false},
		{"App?.exe", "/in/App1.exe", true},
		{"App?.exe", "/in/App12.exe", false},
		{"App?.exe", "/in/MyApp1.exe", false},
		{"*.*", "/in/readme", false},
		{"*.*", "/in/a.b", true},
		{"Lib*", "/in/Library", true},
		{"a+b.*", "/in/a+b.dll", true},
		{"a+b.*", "/in/aab.dll", false},
	}
	for _, tt := range tests {
		re, err := WildcardPattern(tt.name)
		require.NoError(t, err)
		require.NotNil(t, re)
		assert.Equal(t, tt.matches, re.MatchString(tt.path), "%s ~ %s", tt.name, tt.path)
	}

	re, err := WildcardPattern("*")
	require.NoError(t, err)
	assert.Nil(t, re)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, collect(ctx, ""))
	assert.Equal(t, []string{"a.dll", "b.dll", "c.dll"}, collect(ctx, "a.dll|b.dll||c.dll"))

	abs, err := filepath.Abs("App.dll")
	require.NoError(t, err)
	assert.Equal(t, []string{abs}, collect(ctx, "App.dll"))

	dir := t.TempDir()
	for _, rel := range []string{"one.dll", "two.exe", filepath.Join("sub", "three.dll"), filepath.Join("sub", "notes.txt")} {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, rel)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, rel), nil, 0o644))
	}

	assert.Equal(t, []string{
		filepath.Join(dir, "one.dll"),
		filepath.Join(dir, "sub", "three.dll"),
	}, collect(ctx, filepath.Join(dir, "*.dll")))
	assert.Len(t, collect(ctx, filepath.Join(dir, "*")), 4)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Empty(t, collect(cancelled, filepath.Join(dir, "*")))
}

func TestAdmit(t *testing.T) {
	dir := t.TempDir()
	asm := writeAssembly(t, filepath.Join(dir, "App.dll"), "App")
	copied := writeAssembly(t, filepath.Join(dir, "copy", "App.dll"), "App")
	noExt := filepath.Join(dir, "App")
	require.NoError(t, os.WriteFile(noExt, fixture.NewAssembly("App").Bytes(), 0o644))
	logFile := filepath.Join(dir, "run.LOG")
	require.NoError(t, os.WriteFile(logFile, []byte("log"), 0o644))
	text := filepath.Join(dir, "notes.dll")
	require.NoError(t, os.WriteFile(text, []byte("text"), 0o644))

	state := &RunState{}
	tests := []struct {
		path string
		want Rejection
	}{
		{filepath.Join(dir, strings.Repeat("x", 300)+".dll"), RejectPath},
		{filepath.Join(dir, "$Recycle.Bin", "App.dll"), RejectTrash},
		{filepath.Join(dir, ".Trash-1000", "files", "App.dll"), RejectTrash},
		{noExt, RejectNoExt},
		{logFile, RejectLog},
		{filepath.Join(dir, "missing.dll"), RejectMissing},
		{dir + string(filepath.Separator) + "copy.dll", RejectMissing},
		{text, RejectNotAsm},
		{asm, Accepted},
		{copied, RejectSeen},
		{asm, RejectSeen},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, state.Admit(tt.path, 260), tt.path)
	}
	assert.Equal(t, IdentityKey("/a/APP.dll", 10), IdentityKey(`/b/app.dll`, 10))
	assert.NotEqual(t, IdentityKey("/a/app.dll", 10), IdentityKey("/a/app.dll", 11))
	assert.NotEqual(t, IdentityKey("/a/x.dll", 123), IdentityKey("/a/x.dll1", 23))
}

func TestDoWork(t *testing.T) {
	src := t.TempDir()
	writeAssembly(t, filepath.Join(src, "Rich.dll"), "Rich")
	writeAssembly(t, filepath.Join(src, "nested", "Poor.dll"), "Poor")
	writeAssembly(t, filepath.Join(src, "Failing.exe"), "Failing")
	require.NoError(t, os.WriteFile(filepath.Join(src, "readme.dll"), []byte("not managed"), 0o644))
	dest := filepath.Join(t.TempDir(), "out")

	iso := &fakeIsolator{run: func(job worker.Job) (worker.Result, error) {
		switch filepath.Base(job.File) {
		case "Rich.dll":
			return worker.Result{File: job.File, HasResources: true, Written: 2}, nil
		case "Failing.exe":
			return worker.Result{}, errors.New("worker exited")
		}
		return worker.Result{File: job.File}, nil
	}}

	var mu sync.Mutex
	var outcomes []Outcome
	var rejected []string
	d := &Dispatcher{
		Isolator:        iso,
		Parallelism:     2,
		StringThreshold: 100,
		OnOutcome: func(o Outcome) {
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, o)
		},
		OnReject: func(path string, why Rejection) {
			mu.Lock()
			defer mu.Unlock()
			rejected = append(rejected, filepath.Base(path)+": "+string(why))
		},
	}

	extracted, err := d.DoWork(context.Background(), filepath.Join(src, "*"), dest, true)
	require.NoError(t, err)
	assert.Equal(t, 1, extracted)
	assert.DirExists(t, dest)
	assert.Equal(t, []string{"readme.dll: " + string(RejectNotAsm)}, rejected)

	require.Len(t, outcomes, 3)
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Path < outcomes[j].Path })
	assert.Equal(t, "Failing.exe", filepath.Base(outcomes[0].Path))
	assert.EqualError(t, outcomes[0].Err, "worker exited")
	assert.Equal(t, "Rich.dll", filepath.Base(outcomes[1].Path))
	assert.Equal(t, 2, outcomes[1].Result.Written)
	assert.Equal(t, "Poor.dll", filepath.Base(outcomes[2].Path))
	assert.False(t, outcomes[2].Result.HasResources)
}

func TestDoWorkPassesJob(t *testing.T) {
	src := writeAssembly(t, filepath.Join(t.TempDir(), "App.dll"), "App")
	dest := t.TempDir()

	var got worker.Job
	iso := &fakeIsolator{run: func(job worker.Job) (worker.Result, error) {
		got = job
		return worker.Result{}, nil
	}}
	d := &Dispatcher{Isolator: iso, StringThreshold: 2048}
	_, err := d.DoWork(context.Background(), src, dest, false)
	require.NoError(t, err)

	assert.Equal(t, worker.Job{File: src, Dest: dest, SeparateFolders: false, StringThreshold: 2048}, got)
}

func TestDoWorkBoundsParallelism(t *testing.T) {
	src := t.TempDir()
	for i := 0; i < 8; i++ {
		name := "Lib" + string(rune('A'+i))
		writeAssembly(t, filepath.Join(src, name+".dll"), name)
	}

	iso := &fakeIsolator{run: func(job worker.Job) (worker.Result, error) {
		time.Sleep(20 * time.Millisecond)
		return worker.Result{HasResources: true}, nil
	}}
	d := &Dispatcher{Isolator: iso, Parallelism: 3}
	extracted, err := d.DoWork(context.Background(), filepath.Join(src, "*.dll"), t.TempDir(), true)
	require.NoError(t, err)

	assert.Equal(t, 8, extracted)
	assert.Equal(t, int32(8), iso.calls.Load())
	assert.LessOrEqual(t, iso.maxSeen.Load(), int32(3))
}

func TestDoWorkRecoversPanics(t *testing.T) {
	src := t.TempDir()
	writeAssembly(t, filepath.Join(src, "Bad.dll"), "Bad")
	writeAssembly(t, filepath.Join(src, "Good.dll"), "Good")

	iso := &fakeIsolator{run: func(job worker.Job) (worker.Result, error) {
		if strings.HasSuffix(job.File, "Bad.dll") {
			panic("corrupt metadata")
		}
		return worker.Result{HasResources: true}, nil
	}}

	var mu sync.Mutex
	var failed []error
	d := &Dispatcher{Isolator: iso, OnOutcome: func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		if o.Err != nil {
			failed = append(failed, o.Err)
		}
	}}
	extracted, err := d.DoWork(context.Background(), filepath.Join(src, "*.dll"), t.TempDir(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, extracted)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error(), "corrupt metadata")
}

func TestDoWorkCancelled(t *testing.T) {
	src := t.TempDir()
	writeAssembly(t, filepath.Join(src, "App.dll"), "App")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	iso := &fakeIsolator{}
	extracted, err := (&Dispatcher{Isolator: iso}).DoWork(ctx, filepath.Join(src, "*"), t.TempDir(), true)
	require.NoError(t, err)
	assert.Zero(t, extracted)
	assert.Zero(t, iso.calls.Load())
}

func TestDoWorkBadDestination(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := (&Dispatcher{Isolator: &fakeIsolator{}}).DoWork(context.Background(), "x.dll", filepath.Join(blocker, "out"), true)
	assert.Error(t, err)
}
