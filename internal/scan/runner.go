package scan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/linkscan/internal/dispatch"
	"github.com/jonesrussell/linkscan/internal/lock"
	"github.com/jonesrussell/linkscan/internal/logger"
	"github.com/jonesrussell/linkscan/internal/notify"
	"github.com/jonesrussell/linkscan/internal/queue"
	"github.com/jonesrussell/linkscan/internal/remote"
	"github.com/jonesrussell/linkscan/internal/storage"
)

// TriggerManual names a manually started run.
const TriggerManual = "manual"

// Broken-reference reason codes.
const (
	ReasonConnectionFailed = "connection_failed"
	ReasonHTTPError        = "http_error"
	ReasonFileMissing      = "file_missing"
)

// loadBackoffFactor stretches the reschedule delay after a load deferral.
const loadBackoffFactor = 2

// Config configures a Runner.
type Config struct {
	DatasetType   string
	ContentRoot   string
	Settings      lock.Settings
	Mode          string
	RetryStatuses []int
	Recipients    []string
}

// Runner executes one batch end to end. Execution is single-threaded per
// worker; mutual exclusion across workers comes from the scan lock.
type Runner struct {
	cfg        Config
	locks      *lock.Manager
	queue      queue.Driver
	dispatcher *dispatch.Dispatcher
	provider   SourceProvider
	dataset    DatasetStore
	options    storage.OptionStore
	notifier   *notify.Manager
	log        logger.Logger

	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	statFile func(path string) error
}

// NewRunner wires a batch runner.
func NewRunner(
	cfg Config,
	locks *lock.Manager,
	q queue.Driver,
	dispatcher *dispatch.Dispatcher,
	provider SourceProvider,
	dataset DatasetStore,
	options storage.OptionStore,
	notifier *notify.Manager,
	log logger.Logger,
) *Runner {
	return &Runner{
		cfg:        cfg,
		locks:      locks,
		queue:      q,
		dispatcher: dispatcher,
		provider:   provider,
		dataset:    dataset,
		options:    options,
		notifier:   notifier,
		log:        log,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
		now: time.Now,
		statFile: func(path string) error {
			_, err := os.Stat(path)
			return err
		},
	}
}

// SetClock overrides the time source. Test hook.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Run executes one batch: acquire the lock (or defer/reschedule), stage the
// dataset, probe every reference, commit atomically and notify. The lock is
// released exactly once on every exit path.
func (r *Runner) Run(ctx context.Context, trigger string, batch int, fullScan, bypassRestWindow bool) error {
	pf := lock.Collect(r.cfg.Settings, batch, fullScan, bypassRestWindow)
	isCron := trigger != "" && trigger != TriggerManual

	jobID, err := r.locks.EnsureActiveJobID(ctx)
	if err != nil {
		return err
	}

	res := r.locks.AcquireOrReschedule(ctx, trigger, batch, fullScan, bypassRestWindow,
		pf.LockTTL, pf.BatchDelay, pf.Debug)
	switch res.Status {
	case lock.StatusRescheduled:
		return nil
	case lock.StatusError:
		return res.Err
	case lock.StatusAcquired:
	}

	token := res.LockToken
	released := false
	release := func() {
		if released || token == "" {
			return
		}
		released = true
		if _, releaseErr := r.locks.Release(ctx, token); releaseErr != nil {
			r.log.Error("lock release failed", logger.Error(releaseErr))
		}
	}
	defer release()

	deferral, err := r.locks.DeferDuringRestWindow(ctx, pf, token, isCron)
	if err != nil {
		return err
	}
	if deferral.Deferred {
		released = true
		return nil
	}

	deferral, err = r.locks.DeferForServerLoad(ctx, pf, token, isCron)
	if err != nil {
		return err
	}
	if deferral.Deferred {
		released = true
		if isCron {
			job := queue.Job{Batch: batch, IsFullScan: fullScan, BypassRestWindow: bypassRestWindow}
			r.queue.ScheduleBatch(ctx, job, pf.BatchDelay*loadBackoffFactor)
		}
		return nil
	}

	cacheKey := fmt.Sprintf("scan:cache:%s_%s", r.cfg.DatasetType, uuid.NewString())
	if err := r.options.Set(ctx, cacheKey, jobID, pf.LockTTL); err != nil {
		return err
	}
	defer func() {
		if delErr := r.options.Delete(ctx, cacheKey); delErr != nil {
			r.log.Warn("scan cache cleanup failed", logger.Error(delErr))
		}
	}()

	sources, err := r.provider.Sources(ctx, batch, fullScan)
	if err != nil {
		return fmt.Errorf("enumerate sources: %w", err)
	}

	buffer := NewBuffer()
	checked := 0

	for _, source := range sources {
		for _, ref := range source.References {
			checked++
			r.checkReference(ctx, buffer, source, ref, pf)

			if pf.LinkDelay > 0 {
				if sleepErr := r.sleep(ctx, pf.LinkDelay); sleepErr != nil {
					return sleepErr
				}
			}
		}
	}

	if err := buffer.Commit(ctx, r.dataset); err != nil {
		r.log.Error("dataset commit failed, partial results rolled back",
			logger.Int("staged", buffer.Len()),
			logger.Error(err))
		return err
	}

	release()

	r.notifyRun(ctx, checked, buffer.Len())

	if err := r.locks.ClearActiveJob(ctx); err != nil {
		r.log.Warn("active job cleanup failed", logger.Error(err))
	}

	r.log.Info("batch completed",
		logger.String("dataset_type", r.cfg.DatasetType),
		logger.Int("batch", batch),
		logger.Int("checked", checked),
		logger.Int("broken", buffer.Len()))
	return nil
}

// checkReference probes one reference, staging a row when it is broken.
// Local references are resolved against the content root instead of probed.
func (r *Runner) checkReference(ctx context.Context, buffer *Buffer, source Source, ref Reference, pf lock.Context) {
	if isLocalReference(ref.URL) {
		r.checkLocal(buffer, source, ref)
		return
	}

	r.dispatcher.Enqueue(dispatch.Check{
		URL:           ref.URL,
		Mode:          r.cfg.Mode,
		RetryStatuses: r.cfg.RetryStatuses,
		Callback: func(outcome dispatch.Outcome) {
			if row, broken := r.classify(source, ref, outcome); broken {
				buffer.Add(row)
			}
		},
	})
	r.dispatcher.Drain(ctx)
}

// checkLocal verifies a content-root-relative reference on disk.
func (r *Runner) checkLocal(buffer *Buffer, source Source, ref Reference) {
	resolved, err := ResolveContentPath(r.cfg.ContentRoot, ref.URL)
	if err != nil {
		buffer.Add(BrokenRow{
			SourceID:  source.ID,
			URL:       ref.URL,
			Kind:      ref.Kind,
			Reason:    ReasonPathTraversal,
			CheckedAt: r.now(),
		})
		return
	}

	if statErr := r.statFile(resolved); statErr != nil {
		buffer.Add(BrokenRow{
			SourceID:  source.ID,
			URL:       ref.URL,
			Kind:      ref.Kind,
			Reason:    ReasonFileMissing,
			CheckedAt: r.now(),
		})
	}
}

// classify maps a probe outcome to a broken row. Transient-looking results
// are left for the next run rather than recorded.
func (r *Runner) classify(source Source, ref Reference, outcome dispatch.Outcome) (BrokenRow, bool) {
	row := BrokenRow{
		SourceID:  source.ID,
		URL:       ref.URL,
		Kind:      ref.Kind,
		CheckedAt: r.now(),
	}

	if outcome.Err != nil {
		if errors.Is(outcome.Err, remote.ErrHostNotSafe) {
			row.Reason = remote.ReasonHostNotSafe
			return row, true
		}
		if outcome.TemporaryFallback {
			// HEAD already failed for a transient-looking reason and the GET
			// confirmation failed the same way; leave it for the next run.
			return BrokenRow{}, false
		}
		row.Reason = ReasonConnectionFailed
		return row, true
	}

	if outcome.Response == nil {
		return BrokenRow{}, false
	}

	if outcome.Response.StatusCode >= http.StatusBadRequest {
		row.StatusCode = outcome.Response.StatusCode
		row.Reason = ReasonHTTPError
		return row, true
	}

	return BrokenRow{}, false
}

// notifyRun emits the once-per-run summary.
func (r *Runner) notifyRun(ctx context.Context, checked, broken int) {
	if r.notifier == nil {
		return
	}

	severity := notify.SeverityInfo
	if broken > 0 {
		severity = notify.SeverityWarning
	}
	if checked > 0 && broken*2 >= checked {
		severity = notify.SeverityCritical
	}

	summary := notify.Summary{
		Severity:     severity,
		Subject:      fmt.Sprintf("%s scan finished", r.cfg.DatasetType),
		Message:      fmt.Sprintf("checked %d references, %d broken", checked, broken),
		Context:      r.cfg.DatasetType,
		TotalChecked: checked,
		BrokenCount:  broken,
	}

	if _, err := r.notifier.SendSummaryNotifications(ctx, r.cfg.DatasetType, summary, r.cfg.Recipients, nil); err != nil {
		r.log.Warn("summary notification failed", logger.Error(err))
	}
}
