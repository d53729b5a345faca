// Command recurra serves the recurrence rule API and previews rule files.
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "recurra",
		Short: "Recurring pet event scheduler",
		Long: `recurra expands recurrence rules (vaccines, medication, walks) into
concrete upcoming events and keeps them in step as rules change.`,
		SilenceUsage: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the horizon regeneration schedule",
		RunE:  runServe,
	}
	previewCmd = &cobra.Command{
		Use:   "preview",
		Short: "Print the occurrences a rule file would produce",
		Long:  `Expands a YAML rule file as of --now without touching any store.`,
		RunE:  runPreview,
	}

	configPath        string
	regenerateOnStart bool

	rulePath      string
	previewNow    string
	previewFormat string
)

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "recurra.yaml",
		"path to the YAML config; created with defaults if missing")
	serveCmd.Flags().BoolVar(&regenerateOnStart, "regenerate-on-start", false,
		"run one regeneration sweep before serving")

	previewCmd.Flags().StringVarP(&rulePath, "rule", "r", "", "path to the YAML rule file")
	previewCmd.Flags().StringVar(&previewNow, "now", "", "RFC 3339 instant to expand from (default: current time)")
	previewCmd.Flags().StringVar(&previewFormat, "format", "text", "output format: text or ics")
	_ = previewCmd.MarkFlagRequired("rule")

	rootCmd.AddCommand(serveCmd, previewCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
