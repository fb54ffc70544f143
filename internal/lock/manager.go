package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/linkscan/internal/logger"
	"github.com/jonesrussell/linkscan/internal/queue"
	"github.com/jonesrussell/linkscan/internal/storage"
)

// ErrLockHeld is returned to manual triggers racing an in-progress scan.
var ErrLockHeld = errors.New("scan lock already held")

// AcquireStatus classifies the result of an acquisition attempt.
type AcquireStatus string

const (
	// StatusAcquired means the lock is held by the caller.
	StatusAcquired AcquireStatus = "acquired"
	// StatusRescheduled means the batch was requeued for later.
	StatusRescheduled AcquireStatus = "rescheduled"
	// StatusError means a manual trigger observed contention.
	StatusError AcquireStatus = "error"
)

// AcquireResult is the outcome of AcquireOrReschedule.
type AcquireResult struct {
	Status    AcquireStatus
	LockToken string
	Err       error
}

// Deferral is the outcome of a deferral check. A deferred run has released
// its lock and carries an empty token.
type Deferral struct {
	Deferred  bool
	LockToken string
}

// LockState is the persisted lock record. At most one non-expired state
// exists per dataset type at any time.
type LockState struct {
	Token    string    `json:"token"`
	LockedAt time.Time `json:"locked_at"`
}

// activeJob is the persisted in-progress job record.
type activeJob struct {
	ID       string `json:"id"`
	Attempts int    `json:"attempts"`
}

// Manager coordinates single-flight scan execution for one dataset type.
type Manager struct {
	datasetType string
	store       storage.OptionStore
	queue       queue.Driver
	log         logger.Logger

	now     func() time.Time
	loadAvg func() (float64, error)
}

// NewManager creates a lock manager for datasetType ("link" or "image").
func NewManager(datasetType string, store storage.OptionStore, q queue.Driver, log logger.Logger) *Manager {
	return &Manager{
		datasetType: datasetType,
		store:       store,
		queue:       q,
		log:         log,
		now:         time.Now,
		loadAvg:     readLoadAverage,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// SetLoadSampler overrides the load average source. Test hook.
func (m *Manager) SetLoadSampler(fn func() (float64, error)) {
	m.loadAvg = fn
}

func (m *Manager) lockKey() string   { return "lock:" + m.datasetType }
func (m *Manager) jobKey() string    { return "scan:" + m.datasetType + ":job" }
func (m *Manager) statusKey() string { return "scan:" + m.datasetType + ":status" }

// EnsureActiveJobID returns the persisted in-progress job identifier,
// generating one if absent. An existing record keeps its identifier and has
// its retry-attempt counter merged forward.
func (m *Manager) EnsureActiveJobID(ctx context.Context) (string, error) {
	raw, ok, err := m.store.Get(ctx, m.jobKey())
	if err != nil {
		return "", fmt.Errorf("load active job: %w", err)
	}

	job := activeJob{ID: uuid.NewString()}
	if ok {
		var prior activeJob
		if err := json.Unmarshal([]byte(raw), &prior); err == nil && prior.ID != "" {
			job.ID = prior.ID
			job.Attempts = prior.Attempts + 1
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode active job: %w", err)
	}
	if err := m.store.Set(ctx, m.jobKey(), string(data), 0); err != nil {
		return "", fmt.Errorf("persist active job: %w", err)
	}

	return job.ID, nil
}

// ClearActiveJob removes the in-progress job record.
func (m *Manager) ClearActiveJob(ctx context.Context) error {
	return m.store.Delete(ctx, m.jobKey())
}

// AcquireOrReschedule attempts lock acquisition with a fresh token. On
// contention an automatic trigger reschedules the batch after delay; a
// manual trigger gets an error and a "running" status snapshot it can
// observe without retrying.
func (m *Manager) AcquireOrReschedule(
	ctx context.Context,
	trigger string,
	batch int,
	isFullScan, bypassRestWindow bool,
	lockTTL, delay time.Duration,
	debug bool,
) AcquireResult {
	state := LockState{Token: uuid.NewString(), LockedAt: m.now()}
	raw, err := json.Marshal(state)
	if err != nil {
		return AcquireResult{Status: StatusError, Err: fmt.Errorf("encode lock state: %w", err)}
	}

	acquired, err := m.store.SetNX(ctx, m.lockKey(), string(raw), lockTTL)
	if err != nil {
		return AcquireResult{Status: StatusError, Err: fmt.Errorf("acquire lock: %w", err)}
	}

	if acquired {
		if debug {
			m.log.Debug("scan lock acquired",
				logger.String("dataset_type", m.datasetType),
				logger.String("trigger", trigger))
		}
		return AcquireResult{Status: StatusAcquired, LockToken: state.Token}
	}

	if m.isAutomatic(trigger) {
		job := queue.Job{Batch: batch, IsFullScan: isFullScan, BypassRestWindow: bypassRestWindow}
		if !m.queue.ScheduleBatch(ctx, job, delay) {
			return AcquireResult{Status: StatusError, Err: fmt.Errorf("reschedule batch %d: %w", batch, ErrLockHeld)}
		}
		m.log.Info("scan lock held, batch rescheduled",
			logger.String("dataset_type", m.datasetType),
			logger.Int("batch", batch),
			logger.Duration("delay", delay))
		return AcquireResult{Status: StatusRescheduled}
	}

	if err := m.store.Set(ctx, m.statusKey(), "running", lockTTL); err != nil {
		m.log.Warn("status snapshot write failed", logger.Error(err))
	}
	return AcquireResult{Status: StatusError, Err: ErrLockHeld}
}

// Release clears the lock only when token matches the stored state.
// Releasing with a non-matching token is a no-op, so a stale holder can
// never clear a successor's lock.
func (m *Manager) Release(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	raw, ok, err := m.store.Get(ctx, m.lockKey())
	if err != nil {
		return false, fmt.Errorf("load lock state: %w", err)
	}
	if !ok {
		return false, nil
	}

	var state LockState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return false, fmt.Errorf("decode lock state: %w", err)
	}
	if state.Token != token {
		return false, nil
	}

	removed, err := m.store.CompareAndDelete(ctx, m.lockKey(), raw)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return removed, nil
}

// LockToken returns the currently stored token, if any. Observability
// helper for status surfaces and tests.
func (m *Manager) LockToken(ctx context.Context) (string, error) {
	raw, ok, err := m.store.Get(ctx, m.lockKey())
	if err != nil || !ok {
		return "", err
	}

	var state LockState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return "", fmt.Errorf("decode lock state: %w", err)
	}
	return state.Token, nil
}

// DeferDuringRestWindow releases the lock and reschedules the batch for the
// window's end when the current local hour falls inside the configured rest
// window. Manual runs and bypass-flagged runs are never deferred.
func (m *Manager) DeferDuringRestWindow(ctx context.Context, pf Context, token string, isCron bool) (Deferral, error) {
	if !isCron || pf.BypassRestWindow || !pf.InRestWindow(m.now().Hour()) {
		return Deferral{LockToken: token}, nil
	}

	if _, err := m.Release(ctx, token); err != nil {
		return Deferral{LockToken: token}, err
	}

	delay := m.delayUntilHour(pf.RestWindowEnd)
	job := queue.Job{Batch: pf.Batch, IsFullScan: pf.IsFullScan, BypassRestWindow: pf.BypassRestWindow}
	m.queue.ScheduleBatch(ctx, job, delay)

	m.log.Info("run deferred for rest window",
		logger.String("dataset_type", m.datasetType),
		logger.Int("window_end_hour", pf.RestWindowEnd),
		logger.Duration("delay", delay))

	return Deferral{Deferred: true, LockToken: ""}, nil
}

// DeferForServerLoad releases the lock and signals deferral when the
// 1-minute load average exceeds the configured threshold. The caller is
// expected to reschedule with backoff.
func (m *Manager) DeferForServerLoad(ctx context.Context, pf Context, token string, isCron bool) (Deferral, error) {
	load, err := m.loadAvg()
	if err != nil {
		// Load sampling is best-effort; an unreadable sample never blocks a run.
		m.log.Warn("load average unavailable", logger.Error(err))
		return Deferral{LockToken: token}, nil
	}

	if load <= pf.LoadThreshold {
		return Deferral{LockToken: token}, nil
	}

	if _, releaseErr := m.Release(ctx, token); releaseErr != nil {
		return Deferral{LockToken: token}, releaseErr
	}

	m.log.Info("run deferred for host load",
		logger.String("dataset_type", m.datasetType),
		logger.Float64("load", load),
		logger.Float64("threshold", pf.LoadThreshold),
		logger.Bool("cron", isCron))

	return Deferral{Deferred: true, LockToken: ""}, nil
}

// isAutomatic reports whether the trigger came from the scheduler hook
// rather than a manual action.
func (m *Manager) isAutomatic(trigger string) bool {
	return trigger != "" && trigger != "manual"
}

// delayUntilHour computes the duration until the next local occurrence of
// hour:00.
func (m *Manager) delayUntilHour(hour int) time.Duration {
	now := m.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
