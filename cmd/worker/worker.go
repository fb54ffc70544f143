// Package worker implements the queue consumer command.
package worker

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/linkscan/cmd/common"
	"github.com/jonesrussell/linkscan/internal/logger"
	"github.com/jonesrussell/linkscan/internal/queue"
)

// pollInterval paces the loop when the backend cannot block for work.
const pollInterval = 5 * time.Second

// Command returns the worker command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume scheduled batches from the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewDeps()
			if err != nil {
				return err
			}
			defer deps.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hook := deps.Config.Scan.TriggerHook
			run := func(ctx context.Context, job *queue.Job) error {
				return deps.Runner.Run(ctx, hook, job.Batch, job.IsFullScan, job.BypassRestWindow)
			}

			deps.Logger.Info("worker started",
				logger.Bool("async_pull", deps.Queue.SupportsAsyncPull()))
			return consume(ctx, deps.Queue, deps.Logger, run, pollInterval)
		},
	}
}

func consume(
	ctx context.Context,
	q queue.Driver,
	log logger.Logger,
	run func(context.Context, *queue.Job) error,
	idle time.Duration,
) error {
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return nil
		default:
		}

		job, err := q.ReceiveBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error("receive batch failed", logger.Error(err))
			continue
		}

		if job == nil {
			// A degraded backend returns nil without blocking; pace the
			// loop instead of hammering it until it recovers.
			if !q.SupportsAsyncPull() || !q.IsConnected() {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(idle):
				}
			}
			continue
		}

		if runErr := run(ctx, job); runErr != nil {
			log.Error("batch failed",
				logger.Int("batch", job.Batch),
				logger.Error(runErr))
			q.ReportFailure(ctx, job, runErr)
			continue
		}

		q.Acknowledge(ctx, job)
	}
}
