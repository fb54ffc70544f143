package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/linkscan/internal/logger"
	"github.com/jonesrussell/linkscan/internal/queue"
)

func TestSchedulerDriver_FiresTriggerAfterDelay(t *testing.T) {
	fired := make(chan queue.Job, 1)
	d := queue.NewSchedulerDriver(func(job queue.Job) { fired <- job }, logger.Nop())
	defer d.Stop()

	ok := d.ScheduleBatch(context.Background(), queue.Job{Batch: 3, IsFullScan: true}, 10*time.Millisecond)
	require.True(t, ok)

	select {
	case job := <-fired:
		assert.Equal(t, 3, job.Batch)
		assert.True(t, job.IsFullScan)
		assert.False(t, job.AvailableAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled batch never fired")
	}
}

func TestSchedulerDriver_RescheduleReplacesPendingTimer(t *testing.T) {
	fired := make(chan queue.Job, 2)
	d := queue.NewSchedulerDriver(func(job queue.Job) { fired <- job }, logger.Nop())
	defer d.Stop()

	ctx := context.Background()
	require.True(t, d.ScheduleBatch(ctx, queue.Job{Batch: 1}, time.Hour))
	require.True(t, d.ScheduleBatch(ctx, queue.Job{Batch: 1, IsFullScan: true}, 10*time.Millisecond))

	select {
	case job := <-fired:
		assert.True(t, job.IsFullScan, "replacement schedule should fire, not the original")
	case <-time.After(2 * time.Second):
		t.Fatal("rescheduled batch never fired")
	}

	select {
	case <-fired:
		t.Fatal("original timer should have been replaced")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedulerDriver_StopCancelsPendingTimers(t *testing.T) {
	fired := make(chan queue.Job, 1)
	d := queue.NewSchedulerDriver(func(job queue.Job) { fired <- job }, logger.Nop())

	require.True(t, d.ScheduleBatch(context.Background(), queue.Job{Batch: 1}, 20*time.Millisecond))
	d.Stop()

	assert.False(t, d.ScheduleBatch(context.Background(), queue.Job{Batch: 2}, time.Millisecond))

	select {
	case <-fired:
		t.Fatal("stopped driver must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSchedulerDriver_PushContract(t *testing.T) {
	d := queue.NewSchedulerDriver(func(queue.Job) {}, logger.Nop())
	defer d.Stop()

	job, err := d.ReceiveBatch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)

	assert.True(t, d.IsConnected())
	assert.False(t, d.SupportsAsyncPull())
}

func TestSchedulerDriver_ReportFailureRaisesHook(t *testing.T) {
	d := queue.NewSchedulerDriver(func(queue.Job) {}, logger.Nop())
	defer d.Stop()

	var gotJob queue.Job
	var gotErr error
	d.OnFailure(func(job queue.Job, jobErr error) {
		gotJob = job
		gotErr = jobErr
	})

	d.ReportFailure(context.Background(), &queue.Job{Batch: 5}, assert.AnError)

	assert.Equal(t, 5, gotJob.Batch)
	assert.ErrorIs(t, gotErr, assert.AnError)
}
