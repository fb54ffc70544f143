// Package scheduler implements the recurring cron trigger command.
package scheduler

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/linkscan/cmd/common"
	"github.com/jonesrussell/linkscan/internal/logger"
	"github.com/jonesrussell/linkscan/internal/queue"
)

// ErrSchedulerBackendRequired is returned when the scheduler command runs
// against a non-scheduler queue backend.
var ErrSchedulerBackendRequired = errors.New("scheduler command requires queue.driver=scheduler")

// Command returns the scheduler command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run recurring batches on the configured cron schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewDeps()
			if err != nil {
				return err
			}
			defer deps.Close()

			driver := deps.Scheduler()
			if driver == nil {
				return ErrSchedulerBackendRequired
			}

			spec := deps.Config.Scan.CronSchedule
			if err := driver.StartRecurring(spec, queue.Job{}); err != nil {
				return err
			}

			deps.Logger.Info("scheduler started", logger.String("schedule", spec))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			deps.Logger.Info("scheduler stopping")
			return nil
		},
	}
}
