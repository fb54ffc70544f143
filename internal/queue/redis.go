package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/linkscan/internal/logger"
)

const (
	// defaultBlockTimeout bounds how long a blocking pop waits for work.
	defaultBlockTimeout = 5 * time.Second

	// notReadySleep is the brief pause after re-pushing a job whose
	// available_at is still in the future.
	notReadySleep = 250 * time.Millisecond

	// deadLetterSuffix names the list holding failed jobs.
	deadLetterSuffix = ":failed"

	defaultListName = "linkscan:batches"
)

// deadLetter is the dead-letter envelope for failed jobs.
type deadLetter struct {
	Job      Job       `json:"job"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// RedisDriverConfig configures the Redis queue backend.
type RedisDriverConfig struct {
	ListName     string
	BlockTimeout time.Duration
}

// RedisDriver is the message-queue backend: RPUSH to schedule, BRPOP to
// receive, a `:failed`-suffixed dead-letter list for failures. Delayed
// visibility is emulated client-side: a popped job whose available_at is in
// the future is pushed back at the opposite end of the list, so waiting
// jobs never block ready ones, and the worker sleeps briefly.
// Connection failures degrade IsConnected and make operations fail closed.
type RedisDriver struct {
	client       redis.UniversalClient
	list         string
	blockTimeout time.Duration
	log          logger.Logger
	connected    atomic.Bool
	sleep        func(time.Duration)
	now          func() time.Time
}

// NewRedisDriver creates a Redis-backed queue driver.
func NewRedisDriver(client redis.UniversalClient, cfg RedisDriverConfig, log logger.Logger) *RedisDriver {
	list := cfg.ListName
	if list == "" {
		list = defaultListName
	}

	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}

	d := &RedisDriver{
		client:       client,
		list:         list,
		blockTimeout: blockTimeout,
		log:          log,
		sleep:        time.Sleep,
		now:          time.Now,
	}
	d.connected.Store(true)
	return d
}

// ListName returns the backing list key.
func (d *RedisDriver) ListName() string {
	return d.list
}

// DeadLetterList returns the dead-letter list key.
func (d *RedisDriver) DeadLetterList() string {
	return d.list + deadLetterSuffix
}

// ScheduleBatch enqueues the job as a JSON payload.
func (d *RedisDriver) ScheduleBatch(ctx context.Context, job Job, delay time.Duration) bool {
	job.EnqueuedAt = d.now()
	job.AvailableAt = job.EnqueuedAt.Add(delay)

	payload, err := json.Marshal(job)
	if err != nil {
		d.log.Error("marshal job failed", logger.Error(err))
		return false
	}

	if err := d.client.RPush(ctx, d.list, payload).Err(); err != nil {
		d.degrade("rpush", err)
		return false
	}

	d.connected.Store(true)
	return true
}

// ReceiveBatch performs a blocking pop with a bounded wait. Returns nil
// when no job is ready.
func (d *RedisDriver) ReceiveBatch(ctx context.Context) (*Job, error) {
	values, err := d.client.BRPop(ctx, d.blockTimeout, d.list).Result()
	if errors.Is(err, redis.Nil) {
		d.connected.Store(true)
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		d.degrade("brpop", err)
		return nil, nil
	}

	d.connected.Store(true)

	// BRPOP returns [key, value].
	if len(values) < 2 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		d.log.Error("discarding malformed job payload", logger.Error(err))
		return nil, nil
	}

	if job.AvailableAt.After(d.now()) {
		// Not ready yet: requeue at the opposite end from BRPOP so ready
		// jobs behind it still get popped, and let the worker idle briefly
		// instead of executing early.
		if err := d.client.LPush(ctx, d.list, values[1]).Err(); err != nil {
			d.degrade("lpush requeue", err)
		}
		d.sleep(notReadySleep)
		return nil, nil
	}

	return &job, nil
}

// Acknowledge is a no-op: BRPOP is destructive, so delivery is complete.
func (d *RedisDriver) Acknowledge(_ context.Context, _ *Job) {}

// ReportFailure pushes the job onto the dead-letter list with the error and
// timestamp.
func (d *RedisDriver) ReportFailure(ctx context.Context, job *Job, jobErr error) {
	if job == nil {
		return
	}

	entry := deadLetter{Job: *job, FailedAt: d.now()}
	if jobErr != nil {
		entry.Error = jobErr.Error()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		d.log.Error("marshal dead letter failed", logger.Error(err))
		return
	}

	if err := d.client.RPush(ctx, d.DeadLetterList(), payload).Err(); err != nil {
		d.degrade("rpush dead letter", err)
	}
}

// IsConnected reports whether the last Redis operation succeeded.
func (d *RedisDriver) IsConnected() bool {
	return d.connected.Load()
}

// SupportsAsyncPull reports true: ReceiveBatch blocks for work.
func (d *RedisDriver) SupportsAsyncPull() bool {
	return true
}

func (d *RedisDriver) degrade(op string, err error) {
	d.connected.Store(false)
	d.log.Error("redis queue operation failed",
		logger.String("op", op),
		logger.Error(err))
}
