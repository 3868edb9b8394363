/*
Copyright © 2022 Nicholas McKinney
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"resextractor/internal/interlock"
	"resextractor/internal/isolation"
)

// workerCmd is started by extract, once per assembly, when isolation is "process". It reads a
// job as JSON on stdin and answers with JSON lines on stdout.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Runs one isolated extraction job",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return isolation.Serve(cmd.Context(), os.Stdin, os.Stdout, interlock.NewFileProvider(cfg.LockDir), logLevel())
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
