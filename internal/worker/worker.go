// Package worker extracts the manifest resources of a single candidate file.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"resextractor/internal/assembly"
	"resextractor/internal/classify"
	"resextractor/internal/dedup"
	"resextractor/internal/extract"
	"resextractor/internal/interlock"
	"resextractor/internal/naming"
	"resextractor/internal/progress"
	"resextractor/internal/resources"
	"resextractor/pkg/sniff"
)

// LedgerName is the per-folder list of source files that produced output there.
const LedgerName = "[Assembly Files].txt"

type Job struct {
	File            string `json:"file"`
	Dest            string `json:"dest"`
	SeparateFolders bool   `json:"separate_folders"`
	StringThreshold int    `json:"string_threshold,omitempty"`
}

type Result struct {
	File         string   `json:"file"`
	HasResources bool     `json:"has_resources"`
	Written      int      `json:"written"`
	Duplicates   int      `json:"duplicates"`
	Unhandled    int      `json:"unhandled"`
	Failed       int      `json:"failed"`
	Files        []string `json:"files,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Worker holds what outlives a single file: the lock provider and the log destination.
// Everything else is built fresh by Extract.
type Worker struct {
	Locks  interlock.Provider
	Logger *slog.Logger
}

func New(locks interlock.Provider, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{Locks: locks, Logger: logger}
}

// FolderFor returns where a candidate's output goes.
func FolderFor(job Job) string {
	if !job.SeparateFolders {
		return job.Dest
	}
	base := filepath.Base(job.File)
	return filepath.Join(job.Dest, strings.TrimSuffix(base, filepath.Ext(base)))
}

// Extract never panics on malformed input it can detect; a failure is logged at the worker error
// stage and reported in Result.Error, and whatever was written before it stays on disk.
func (w *Worker) Extract(ctx context.Context, job Job) Result {
	logger := w.Logger.With(progress.Candidate(job.File))
	folder := FolderFor(job)
	result := Result{File: job.File}

	err := w.extract(ctx, job, folder, logger, &result)
	if err != nil {
		result.Error = err.Error()
		logger.Error(fmt.Sprintf("ERROR: worker: %v", err), progress.Stage(progress.StageWorkerError))
	}

	if result.HasResources {
		if lerr := w.appendLedger(folder, job.File); lerr != nil {
			logger.Error(fmt.Sprintf("ERROR: ledger: %v", lerr), progress.Stage(progress.StageWorkerError))
			if result.Error == "" {
				result.Error = lerr.Error()
			}
		}
	} else if job.SeparateFolders {
		// Only succeeds on an empty directory.
		os.Remove(folder)
	}
	return result
}

func (w *Worker) extract(ctx context.Context, job Job, folder string, logger *slog.Logger, result *Result) error {
	logger.Info("Loading: "+job.File, progress.Stage(progress.StageLoading))

	resolver := assembly.NewResolver(logger)
	defer resolver.Close()

	asm, err := assembly.Open(job.File, resolver)
	if err != nil {
		return err
	}
	defer asm.Close()

	names := asm.ResourceNames()
	if len(names) == 0 {
		logger.Info("Assembly contains no resources.", progress.Stage(progress.StageNoResources))
		return nil
	}
	if err = os.MkdirAll(folder, 0o755); err != nil {
		return errors.Wrapf(err, "unable to create %s", folder)
	}

	alloc := naming.NewAllocator(w.Locks, logger)
	writer := extract.NewWriter(folder, alloc, dedup.New(w.Locks, alloc, sniff.SniffFile, logger), logger)
	classifier := classify.New(job.StringThreshold)
	base := strings.TrimSuffix(filepath.Base(job.File), filepath.Ext(job.File))

	defer func() {
		result.Written = writer.Written
		result.Duplicates = writer.Duplicates
		result.Unhandled = writer.Unhandled
		result.Failed += writer.Failed
		result.Files = writer.Files
		result.HasResources = writer.Written+writer.Duplicates > 0
	}()

	for _, resname := range names {
		if err = ctx.Err(); err != nil {
			return err
		}
		logger.Info("Extracting: "+resname, progress.Stage(progress.StageExtracting))
		short := extract.ShortName(resname, base, job.SeparateFolders)

		data, err := asm.OpenResource(resname)
		if errors.Is(err, assembly.ErrUnresolved) {
			continue
		}
		if err != nil {
			logger.Error(fmt.Sprintf("ERROR: %s: %v", resname, err), progress.Stage(progress.StageWorkerError))
			result.Failed++
			continue
		}

		if !extract.IsResourceSet(resname) {
			writer.WriteBlob(short, data)
			continue
		}

		set, err := resources.Parse(data)
		if err != nil {
			logger.Error(fmt.Sprintf("ERROR: %s: unreadable resource set: %v", resname, err),
				progress.Stage(progress.StageWorkerError))
			result.Failed++
			continue
		}
		entries := make([]classify.Resource, 0, len(set.Entries))
		for _, e := range set.Entries {
			entries = append(entries, classifier.Classify(e))
		}
		writer.WriteSet(resname, short, entries)
	}
	return nil
}

func (w *Worker) appendLedger(folder, file string) error {
	return interlock.Do(w.Locks.Locker(interlock.Ledger), func() error {
		f, err := os.OpenFile(filepath.Join(folder, LedgerName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrap(err, "unable to open ledger")
		}
		defer f.Close()
		if _, err = f.WriteString(file + "\n"); err != nil {
			return errors.Wrap(err, "unable to append to ledger")
		}
		return nil
	})
}
