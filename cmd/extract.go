/*
Copyright © 2022 Nicholas McKinney
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"resextractor/internal/config"
	"resextractor/internal/dispatch"
	"resextractor/internal/interlock"
	"resextractor/internal/isolation"
	"resextractor/internal/progress"
	"resextractor/internal/report"
	"resextractor/internal/tui"
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract <source> <destination>",
	Short: "Extracts the manifest resources of every assembly named by source",
	Long: `Extracts the manifest resources of every assembly named by source into destination.

source is one of:

* a single file path
* a path whose file name contains * or ? wildcards, matched recursively below its directory
* a list of file paths separated by |`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, dest := args[0], args[1]

		var sinks []progress.Sink
		if cfg.LogFile != "" {
			fileSink, err := progress.OpenFileSink(cfg.LogFile)
			if err != nil {
				return err
			}
			defer fileSink.Close()
			sinks = append(sinks, fileSink.Sink())
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var updates chan tui.Update
		if cfg.Plain {
			sinks = append(sinks, func(line string) { fmt.Println(line) })
		} else {
			updates = make(chan tui.Update, 256)
			sinks = append(sinks, func(line string) { updates <- tui.Update{Line: line} })
		}
		sink := progress.Tee(sinks...)
		logger := progress.NewLogger(sink, logLevel())

		locks := interlock.NewFileProvider(cfg.LockDir)
		collector := report.NewCollector(source, dest)
		dispatcher := &dispatch.Dispatcher{
			Isolator:        newIsolator(locks, sink, logger),
			Parallelism:     cfg.Parallelism,
			MaxPath:         cfg.MaxPath,
			StringThreshold: cfg.StringThreshold,
			Logger:          logger,
			OnOutcome: func(o dispatch.Outcome) {
				collector.Add(o)
				if updates != nil {
					updates <- tui.FromOutcome(o)
				}
			},
		}

		fmt.Printf("[*] Source: %s\n", source)
		fmt.Printf("[*] Destination: %s\n", dest)

		uiDone := make(chan struct{})
		if updates != nil {
			program := tea.NewProgram(tui.NewModel(updates, stop))
			go func() {
				if _, err := program.Run(); err != nil {
					fmt.Printf("[!] live view unavailable: %v\n", err)
				}
				// Keep workers from blocking if the view exited early.
				for range updates {
				}
				close(uiDone)
			}()
		} else {
			close(uiDone)
		}

		extracted, err := dispatcher.DoWork(ctx, source, dest, cfg.SeparateFolders)
		if updates != nil {
			close(updates)
		}
		<-uiDone
		if err != nil {
			fmt.Printf("[!] %v\n", err)
			return err
		}

		run := collector.Finish(extracted)
		if cfg.Report != "" {
			if err = run.WriteFile(cfg.Report); err != nil {
				fmt.Printf("[!] %v\n", err)
				return err
			}
		}
		fmt.Println(tui.RenderSummary(summaryRows(run)))
		if ctx.Err() != nil {
			fmt.Println("[!] Cancelled: remaining candidates were not processed")
		}
		fmt.Printf("[+] Extraction complete: %d assemblies with resources\n", extracted)
		return nil
	},
}

func newIsolator(locks *interlock.FileProvider, sink progress.Sink, logger *slog.Logger) isolation.Isolator {
	if cfg.Isolation == config.IsolationInProcess {
		return &isolation.InProcess{Locks: locks, Logger: logger, Timeout: cfg.WorkerTimeout}
	}
	args := []string{workerCmd.Name(), "--lock-dir", locks.Dir}
	if cfg.Verbose {
		args = append(args, "--verbose")
	}
	return &isolation.Subprocess{
		Args:    args,
		Timeout: cfg.WorkerTimeout,
		Sink:    sink,
		Logger:  logger,
	}
}

func summaryRows(run report.Run) []tui.SummaryRow {
	written, duplicates, failed := 0, 0, 0
	for _, c := range run.Candidates {
		written += c.Written
		duplicates += c.Duplicates
		if c.Error != "" {
			failed++
		}
	}
	return []tui.SummaryRow{
		{Label: "Assemblies processed", Value: strconv.Itoa(len(run.Candidates))},
		{Label: "Assemblies with resources", Value: strconv.Itoa(run.Extracted)},
		{Label: "Files written", Value: strconv.Itoa(written)},
		{Label: "Duplicates collapsed", Value: strconv.Itoa(duplicates)},
		{Label: "Assemblies with errors", Value: strconv.Itoa(failed), Warn: failed > 0},
		{Label: "Elapsed", Value: run.Duration.Round(time.Millisecond).String()},
	}
}

func init() {
	flags := extractCmd.Flags()
	flags.Bool("separate-folders", true, "put each assembly's resources in a sub-folder named after it")
	flags.IntP("parallelism", "p", 0, "number of assemblies processed at once (default: number of CPUs)")
	flags.String("isolation", config.IsolationProcess, "worker isolation: process or inprocess")
	flags.Duration("worker-timeout", 0, "wall-clock bound for one assembly (default 5m)")
	flags.Int("string-threshold", 0, "strings this long or longer get their own file (default 1024)")
	flags.Int("max-path", 0, "skip candidate paths longer than this")
	flags.Bool("plain", false, "print progress lines instead of the live view")
	flags.String("report", "", "write a YAML run report to this file")
	cobra.CheckErr(config.BindFlags(viper.GetViper(), flags,
		config.KeySeparateFolders, config.KeyParallelism, config.KeyIsolation, config.KeyWorkerTimeout,
		config.KeyStringThreshold, config.KeyMaxPath, config.KeyPlain, config.KeyReport))
	rootCmd.AddCommand(extractCmd)
}
