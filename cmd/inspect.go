/*
Copyright © 2022 Nicholas McKinney
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"resextractor/internal/assembly"
	"resextractor/internal/classify"
	"resextractor/internal/extract"
	"resextractor/internal/pesniff"
	"resextractor/internal/resources"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Identify an assembly and list its resources",
	Long: `Identify an assembly and list what extract would do with each of its resources:

* manifest resources, embedded or linked to another file or assembly
* the entries of every .resources set and the kind each one is classified as
* camera metadata carried by JPEG and TIFF image entries
* strong-name and Authenticode signing`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		inputFilePath := args[0]
		fmt.Printf("[*] Input file: %s\n", inputFilePath)
		if !pesniff.IsAssembly(inputFilePath) {
			fmt.Printf("[!] not a .NET assembly\n")
			os.Exit(1)
		}

		resolver := assembly.NewResolver(nil)
		defer resolver.Close()
		asm, err := assembly.Open(inputFilePath, resolver)
		if err != nil {
			fmt.Printf("[!] %v\n", err)
			os.Exit(1)
		}
		defer asm.Close()

		information, err := asm.Describe()
		if err != nil {
			fmt.Printf("[!] %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s", information)

		classifier := classify.New(cfg.StringThreshold)
		for _, name := range asm.ResourceNames() {
			if !extract.IsResourceSet(name) {
				continue
			}
			data, err := asm.OpenResource(name)
			if err != nil {
				fmt.Printf("[!] %s: %v\n", name, err)
				continue
			}
			set, err := resources.Parse(data)
			if err != nil {
				fmt.Printf("[!] %s: %v\n", name, err)
				continue
			}
			fmt.Printf("[*] %s: %d entries (%s)\n", name, len(set.Entries), set.ReaderType)
			for _, entry := range set.Entries {
				res := classifier.Classify(entry)
				if res.Kind == classify.Unsupported {
					fmt.Printf("    %s: %s, not extracted (%s)\n", res.Key, res.Kind, res.Reason)
					continue
				}
				fmt.Printf("    %s: %s\n", res.Key, res.Kind)
				if res.Kind == classify.Image && len(res.Payloads) > 0 {
					if info, ok := classify.AnalyzeExif(res.Payloads[0].Data); ok {
						fmt.Printf("      exif: %d tags, model=%q, taken=%q, gps=%t\n", info.Tags, info.Model, info.Timestamp, info.GPS)
					}
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
