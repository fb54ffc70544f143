// Package cmd implements the command-line interface for linkscan.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/linkscan/cmd/scan"
	"github.com/jonesrussell/linkscan/cmd/scheduler"
	"github.com/jonesrussell/linkscan/cmd/worker"
	"github.com/jonesrussell/linkscan/internal/config"
)

// version is set at build time.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "linkscan",
	Short: "Periodic link and image reference verification",
	Long: `linkscan crawls a content corpus, probes every outbound reference
with HEAD/GET and records broken ones for remediation.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	config.InitializeViper()
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("linkscan version %s\n", version)
		},
	})

	rootCmd.AddCommand(scan.Command())
	rootCmd.AddCommand(worker.Command())
	rootCmd.AddCommand(scheduler.Command())
}
