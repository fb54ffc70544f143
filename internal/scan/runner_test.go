package scan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/linkscan/internal/dispatch"
	"github.com/jonesrussell/linkscan/internal/lock"
	"github.com/jonesrussell/linkscan/internal/logger"
	"github.com/jonesrussell/linkscan/internal/queue"
	"github.com/jonesrussell/linkscan/internal/remote"
	"github.com/jonesrussell/linkscan/internal/storage"
)

// scriptedProber maps URLs to canned probe results.
type scriptedProber struct {
	statuses map[string]int
	errs     map[string]error
}

func (p *scriptedProber) probe(url string) (*remote.Response, error) {
	if err, ok := p.errs[url]; ok {
		return nil, err
	}
	if status, ok := p.statuses[url]; ok {
		return &remote.Response{StatusCode: status}, nil
	}
	return &remote.Response{StatusCode: http.StatusOK}, nil
}

func (p *scriptedProber) Head(_ context.Context, url string, _ remote.Options) (*remote.Response, error) {
	return p.probe(url)
}

func (p *scriptedProber) Get(_ context.Context, url string, _ remote.Options) (*remote.Response, error) {
	return p.probe(url)
}

// staticProvider serves a fixed corpus.
type staticProvider struct {
	sources []Source
}

func (p *staticProvider) Sources(context.Context, int, bool) ([]Source, error) {
	return p.sources, nil
}

// captureStore records committed rows and can fail on demand.
type captureStore struct {
	rows        []BrokenRow
	insertErr   error
	failAfter   int
	adjustments []int
}

func (s *captureStore) InsertRows(_ context.Context, rows []BrokenRow) (int, error) {
	if s.insertErr != nil {
		n := min(s.failAfter, len(rows))
		s.rows = append(s.rows, rows[:n]...)
		return n, s.insertErr
	}
	s.rows = append(s.rows, rows...)
	return len(rows), nil
}

func (s *captureStore) AdjustFootprint(_ context.Context, delta int) error {
	s.adjustments = append(s.adjustments, delta)
	return nil
}

// recordingQueue records scheduled batches.
type recordingQueue struct {
	scheduled []queue.Job
}

func (q *recordingQueue) ScheduleBatch(_ context.Context, job queue.Job, _ time.Duration) bool {
	q.scheduled = append(q.scheduled, job)
	return true
}

func (q *recordingQueue) ReceiveBatch(context.Context) (*queue.Job, error) { return nil, nil }
func (q *recordingQueue) Acknowledge(context.Context, *queue.Job)          {}
func (q *recordingQueue) ReportFailure(context.Context, *queue.Job, error) {}
func (q *recordingQueue) IsConnected() bool                                { return true }
func (q *recordingQueue) SupportsAsyncPull() bool                          { return false }

type runnerFixture struct {
	runner  *Runner
	locks   *lock.Manager
	queue   *recordingQueue
	dataset *captureStore
	options *storage.MemoryStore
}

func newRunnerFixture(t *testing.T, prober *scriptedProber, provider SourceProvider, dataset *captureStore) *runnerFixture {
	t.Helper()

	log := logger.Nop()
	options := storage.NewMemoryStore()
	q := &recordingQueue{}
	locks := lock.NewManager("link", options, q, log)
	locks.SetLoadSampler(func() (float64, error) { return 0.5, nil })

	cfg := Config{
		DatasetType: "link",
		ContentRoot: t.TempDir(),
	}

	runner := NewRunner(cfg, locks, q, dispatch.NewDispatcher(prober, log),
		provider, dataset, options, nil, log)
	runner.sleep = func(context.Context, time.Duration) error { return nil }

	return &runnerFixture{
		runner:  runner,
		locks:   locks,
		queue:   q,
		dataset: dataset,
		options: options,
	}
}

func remoteSources(urls ...string) []Source {
	src := Source{ID: "post-1", Title: "post"}
	for _, u := range urls {
		src.References = append(src.References, Reference{URL: u, Kind: KindLink})
	}
	return []Source{src}
}

func TestRunner_RecordsBrokenReferences(t *testing.T) {
	prober := &scriptedProber{
		statuses: map[string]int{
			"https://ok.example/":     http.StatusOK,
			"https://broken.example/": http.StatusNotFound,
		},
		errs: map[string]error{
			"https://down.example/": errors.New("connection refused"),
		},
	}
	dataset := &captureStore{}
	fx := newRunnerFixture(t, prober,
		&staticProvider{sources: remoteSources(
			"https://ok.example/", "https://broken.example/",
		)}, dataset)

	err := fx.runner.Run(context.Background(), TriggerManual, 0, false, false)
	require.NoError(t, err)

	require.Len(t, dataset.rows, 1)
	assert.Equal(t, "https://broken.example/", dataset.rows[0].URL)
	assert.Equal(t, ReasonHTTPError, dataset.rows[0].Reason)
	assert.Equal(t, http.StatusNotFound, dataset.rows[0].StatusCode)
	assert.Equal(t, "post-1", dataset.rows[0].SourceID)

	// The lock is gone and the run can repeat.
	token, err := fx.locks.LockToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestRunner_TransientFailuresLeftForNextRun(t *testing.T) {
	prober := &scriptedProber{
		errs: map[string]error{
			"https://flaky.example/": errors.New("connection reset"),
		},
	}
	dataset := &captureStore{}
	fx := newRunnerFixture(t, prober,
		&staticProvider{sources: remoteSources("https://flaky.example/")}, dataset)

	err := fx.runner.Run(context.Background(), TriggerManual, 0, false, false)
	require.NoError(t, err)

	assert.Empty(t, dataset.rows, "a HEAD failure confirmed transient by GET is not recorded")
}

func TestRunner_UnsafeHostRecorded(t *testing.T) {
	prober := &scriptedProber{
		errs: map[string]error{
			"http://10.0.0.5/admin": fmt.Errorf("%w: 10.0.0.5", remote.ErrHostNotSafe),
		},
	}
	dataset := &captureStore{}
	fx := newRunnerFixture(t, prober,
		&staticProvider{sources: remoteSources("http://10.0.0.5/admin")}, dataset)

	err := fx.runner.Run(context.Background(), TriggerManual, 0, false, false)
	require.NoError(t, err)

	require.Len(t, dataset.rows, 1)
	assert.Equal(t, remote.ReasonHostNotSafe, dataset.rows[0].Reason)
}

func TestRunner_LocalReferences(t *testing.T) {
	dataset := &captureStore{}
	fx := newRunnerFixture(t, &scriptedProber{},
		&staticProvider{sources: remoteSources("missing/image.png", "../../etc/passwd")}, dataset)

	err := fx.runner.Run(context.Background(), TriggerManual, 0, false, false)
	require.NoError(t, err)

	require.Len(t, dataset.rows, 2)
	assert.Equal(t, ReasonFileMissing, dataset.rows[0].Reason)
	assert.Equal(t, ReasonPathTraversal, dataset.rows[1].Reason)
}

func TestRunner_CommitFailureReleasesLockAndCompensates(t *testing.T) {
	prober := &scriptedProber{
		statuses: map[string]int{
			"https://broken-a.example/": http.StatusNotFound,
			"https://broken-b.example/": http.StatusGone,
		},
	}
	insertErr := errors.New("dataset unavailable")
	dataset := &captureStore{insertErr: insertErr, failAfter: 1}
	fx := newRunnerFixture(t, prober,
		&staticProvider{sources: remoteSources(
			"https://broken-a.example/", "https://broken-b.example/",
		)}, dataset)

	err := fx.runner.Run(context.Background(), TriggerManual, 0, false, false)
	require.ErrorIs(t, err, insertErr, "commit error propagates unchanged")

	assert.Equal(t, []int{-1}, dataset.adjustments, "partial insert is compensated")

	token, lockErr := fx.locks.LockToken(context.Background())
	require.NoError(t, lockErr)
	assert.Empty(t, token, "lock must be released on the failure path")
}

func TestRunner_ManualRunAgainstHeldLock(t *testing.T) {
	dataset := &captureStore{}
	fx := newRunnerFixture(t, &scriptedProber{}, &staticProvider{}, dataset)

	res := fx.locks.AcquireOrReschedule(context.Background(), TriggerManual, 0, false, false,
		time.Minute, time.Minute, false)
	require.Equal(t, lock.StatusAcquired, res.Status)

	err := fx.runner.Run(context.Background(), TriggerManual, 0, false, false)
	assert.ErrorIs(t, err, lock.ErrLockHeld)
	assert.Empty(t, fx.queue.scheduled)
}

func TestRunner_CronRunAgainstHeldLockReschedules(t *testing.T) {
	dataset := &captureStore{}
	fx := newRunnerFixture(t, &scriptedProber{}, &staticProvider{}, dataset)

	res := fx.locks.AcquireOrReschedule(context.Background(), "linkscan_batch", 0, false, false,
		time.Minute, time.Minute, false)
	require.Equal(t, lock.StatusAcquired, res.Status)

	err := fx.runner.Run(context.Background(), "linkscan_batch", 2, true, false)
	require.NoError(t, err)

	require.Len(t, fx.queue.scheduled, 1)
	assert.Equal(t, 2, fx.queue.scheduled[0].Batch)
	assert.True(t, fx.queue.scheduled[0].IsFullScan)
}

func TestRunner_CronRunDeferredDuringRestWindow(t *testing.T) {
	dataset := &captureStore{}
	fx := newRunnerFixture(t, &scriptedProber{},
		&staticProvider{sources: remoteSources("https://ok.example/")}, dataset)

	fx.runner.cfg.Settings.RestWindowStart = 22
	fx.runner.cfg.Settings.RestWindowEnd = 6
	at := time.Date(2026, 3, 1, 23, 15, 0, 0, time.UTC)
	fx.locks.SetClock(func() time.Time { return at })

	err := fx.runner.Run(context.Background(), "linkscan_batch", 1, false, false)
	require.NoError(t, err)

	assert.Empty(t, dataset.rows, "no probing happens during the rest window")
	require.Len(t, fx.queue.scheduled, 1)
	assert.Equal(t, 1, fx.queue.scheduled[0].Batch)

	token, lockErr := fx.locks.LockToken(context.Background())
	require.NoError(t, lockErr)
	assert.Empty(t, token)
}

func TestRunner_HighLoadDefersCronRunWithBackoff(t *testing.T) {
	dataset := &captureStore{}
	fx := newRunnerFixture(t, &scriptedProber{},
		&staticProvider{sources: remoteSources("https://ok.example/")}, dataset)

	fx.locks.SetLoadSampler(func() (float64, error) { return 20, nil })

	err := fx.runner.Run(context.Background(), "linkscan_batch", 3, false, false)
	require.NoError(t, err)

	assert.Empty(t, dataset.rows)
	require.Len(t, fx.queue.scheduled, 1)
	assert.Equal(t, 3, fx.queue.scheduled[0].Batch)
}
