package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/linkscan/internal/logger"
)

// TriggerFunc fires a scheduled batch.
type TriggerFunc func(job Job)

// FailureFunc is the extensibility signal raised when a scheduler-driven
// batch fails; external retry logic hooks in here.
type FailureFunc func(job Job, jobErr error)

// SchedulerDriver is the delay-scheduler queue backend. It never blocks:
// ScheduleBatch registers a timer and returns, execution resumes later via
// the trigger. Recurring ticks run through a cron engine.
type SchedulerDriver struct {
	log     logger.Logger
	trigger TriggerFunc
	failure FailureFunc

	cron *cron.Cron

	mu      sync.Mutex
	timers  map[int]*time.Timer
	stopped bool
}

// NewSchedulerDriver creates a scheduler-backed driver firing trigger for
// each due batch.
func NewSchedulerDriver(trigger TriggerFunc, log logger.Logger) *SchedulerDriver {
	return &SchedulerDriver{
		log:     log,
		trigger: trigger,
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		timers:  make(map[int]*time.Timer),
	}
}

// OnFailure registers the failure hook.
func (d *SchedulerDriver) OnFailure(fn FailureFunc) {
	d.failure = fn
}

// StartRecurring registers a cron expression that fires the trigger with
// the given job template and starts the cron engine.
func (d *SchedulerDriver) StartRecurring(spec string, template Job) error {
	_, err := d.cron.AddFunc(spec, func() {
		job := template
		job.EnqueuedAt = time.Now()
		job.AvailableAt = job.EnqueuedAt
		d.log.Info("cron tick firing batch", logger.Int("batch", job.Batch))
		d.trigger(job)
	})
	if err != nil {
		return fmt.Errorf("add cron schedule %q: %w", spec, err)
	}

	d.cron.Start()
	return nil
}

// Stop cancels pending timers and stops the cron engine.
func (d *SchedulerDriver) Stop() {
	d.mu.Lock()
	d.stopped = true
	for batch, timer := range d.timers {
		timer.Stop()
		delete(d.timers, batch)
	}
	d.mu.Unlock()

	<-d.cron.Stop().Done()
}

// ScheduleBatch registers a one-shot timer for the batch. A pending timer
// for the same batch is replaced so repeated reschedules do not stack.
func (d *SchedulerDriver) ScheduleBatch(_ context.Context, job Job, delay time.Duration) bool {
	job.EnqueuedAt = time.Now()
	job.AvailableAt = job.EnqueuedAt.Add(delay)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}

	if prev, ok := d.timers[job.Batch]; ok {
		prev.Stop()
	}

	d.timers[job.Batch] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, job.Batch)
		stopped := d.stopped
		d.mu.Unlock()

		if !stopped {
			d.trigger(job)
		}
	})

	d.log.Debug("batch scheduled",
		logger.Int("batch", job.Batch),
		logger.Duration("delay", delay))
	return true
}

// ReceiveBatch always returns nil: this backend is push-based.
func (d *SchedulerDriver) ReceiveBatch(_ context.Context) (*Job, error) {
	return nil, nil
}

// Acknowledge is a no-op: completion is implicit for triggered batches.
func (d *SchedulerDriver) Acknowledge(_ context.Context, _ *Job) {}

// ReportFailure raises the registered failure hook.
func (d *SchedulerDriver) ReportFailure(_ context.Context, job *Job, jobErr error) {
	if job == nil {
		return
	}
	if d.failure != nil {
		d.failure(*job, jobErr)
		return
	}
	d.log.Error("scheduled batch failed",
		logger.Int("batch", job.Batch),
		logger.Error(jobErr))
}

// IsConnected always reports true: the scheduler is in-process.
func (d *SchedulerDriver) IsConnected() bool {
	return true
}

// SupportsAsyncPull reports false: batches arrive via the trigger.
func (d *SchedulerDriver) SupportsAsyncPull() bool {
	return false
}
