// Package report records one extraction run as YAML.
package report

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.yaml.in/yaml/v3"

	"resextractor/internal/dispatch"
)

type Candidate struct {
	Path       string        `yaml:"path"`
	Extracted  bool          `yaml:"extracted"`
	Written    int           `yaml:"written"`
	Duplicates int           `yaml:"duplicates"`
	Unhandled  int           `yaml:"unhandled,omitempty"`
	Failed     int           `yaml:"failed,omitempty"`
	Files      []string      `yaml:"files,omitempty"`
	Error      string        `yaml:"error,omitempty"`
	Duration   time.Duration `yaml:"duration"`
}

type Run struct {
	Source     string        `yaml:"source"`
	Dest       string        `yaml:"dest"`
	Started    time.Time     `yaml:"started"`
	Duration   time.Duration `yaml:"duration"`
	Extracted  int           `yaml:"extracted"`
	Candidates []Candidate   `yaml:"candidates"`
}

// Collector accumulates outcomes from concurrent workers.
type Collector struct {
	mu  sync.Mutex
	run Run
}

func NewCollector(source, dest string) *Collector {
	return &Collector{run: Run{Source: source, Dest: dest, Started: time.Now()}}
}

func (c *Collector) Add(o dispatch.Outcome) {
	cand := Candidate{
		Path:       o.Path,
		Extracted:  o.Result.HasResources,
		Written:    o.Result.Written,
		Duplicates: o.Result.Duplicates,
		Unhandled:  o.Result.Unhandled,
		Failed:     o.Result.Failed,
		Files:      o.Result.Files,
		Error:      o.Result.Error,
		Duration:   o.Duration,
	}
	if o.Err != nil {
		cand.Error = o.Err.Error()
	}
	c.mu.Lock()
	c.run.Candidates = append(c.run.Candidates, cand)
	c.mu.Unlock()
}

// Finish stamps the totals and returns the run, candidates sorted by path.
func (c *Collector) Finish(extracted int) Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.run.Extracted = extracted
	c.run.Duration = time.Since(c.run.Started)
	sort.Slice(c.run.Candidates, func(i, j int) bool {
		return c.run.Candidates[i].Path < c.run.Candidates[j].Path
	})
	return c.run
}

func (r Run) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}

func (r Run) WriteFile(path string) error {
	data, err := r.Marshal()
	if err != nil {
		return errors.Wrap(err, "unable to encode report")
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "unable to write report %s", path)
	}
	return nil
}

func ReadFile(path string) (Run, error) {
	var r Run
	data, err := os.ReadFile(path)
	if err != nil {
		return r, errors.Wrapf(err, "unable to read report %s", path)
	}
	if err = yaml.Unmarshal(data, &r); err != nil {
		return r, errors.Wrapf(err, "unable to decode report %s", path)
	}
	return r, nil
}
