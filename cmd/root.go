/*
Copyright © 2022 Nicholas McKinney
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"resextractor/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "resextractor",
	Short: "Extracts embedded resources from .NET assemblies without loading them",
	Long: `Extracts the manifest resources embedded in .NET assemblies, including:

* images, icons and cursors stored in .resources sets
* image lists, split into one bitmap per image
* strings, merged into one .resx document per resource set
* streams and byte arrays, named by their content

Assemblies are read as data only; no code in them is ever run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(viper.GetViper())
		return err
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./resextractor.yaml or ~/.config/resextractor/resextractor.yaml)")
	flags.BoolP("verbose", "v", false, "include debug lines in the progress log")
	flags.String("log-file", "", "write progress lines to this file")
	flags.String("lock-dir", "", "directory holding the cross-process lock files (default: system temp)")
	cobra.CheckErr(config.BindFlags(viper.GetViper(), flags, config.KeyVerbose, config.KeyLogFile, config.KeyLockDir))
}

func initConfig() {
	if err := config.Init(viper.GetViper(), cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "[!] %v\n", err)
		os.Exit(1)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(os.Stderr, "[*] Using config file:", used)
	}
}

func logLevel() slog.Level {
	if cfg != nil && cfg.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
