// Package scan implements the manual scan trigger command.
package scan

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/linkscan/cmd/common"
	internalscan "github.com/jonesrussell/linkscan/internal/scan"
)

// Command returns the scan command.
func Command() *cobra.Command {
	var (
		batch            int
		fullScan         bool
		bypassRestWindow bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one verification batch now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewDeps()
			if err != nil {
				return err
			}
			defer deps.Close()

			if err := deps.Runner.Run(cmd.Context(), internalscan.TriggerManual,
				batch, fullScan, bypassRestWindow); err != nil {
				return fmt.Errorf("run batch %d: %w", batch, err)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&batch, "batch", 0, "batch index to run")
	cmd.Flags().BoolVar(&fullScan, "full", false, "re-verify everything, ignoring caches")
	cmd.Flags().BoolVar(&bypassRestWindow, "bypass-rest-window", false, "run even inside the rest window")

	return cmd
}
