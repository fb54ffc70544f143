// Package metrics provides per-attempt request metrics collection.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestAttempt is the per-attempt observability record emitted by the
// remote client. It is append-only and never persisted by this layer.
type RequestAttempt struct {
	Method       string
	URL          string
	Host         string
	Path         string
	Attempt      int
	MaxAttempts  int
	ResponseCode int
	Success      bool
	WillRetry    bool
	RetryAfterMS int64
	Timestamp    time.Time
	UserAgent    string
}

// AttemptHook receives one record per HTTP attempt, after the attempt and
// before the next (if any).
type AttemptHook func(RequestAttempt)

// Recorder aggregates attempt records into prometheus series and an
// in-memory snapshot, and fans records out to registered hooks.
type Recorder struct {
	attempts *prometheus.CounterVec
	duration prometheus.Histogram

	mu                  sync.Mutex
	successfulRequests  int64
	failedRequests      int64
	rateLimitedRequests int64
	retriedRequests     int64
	hooks               []AttemptHook
}

// NewRecorder creates a Recorder and registers its collectors with reg.
// A nil registerer skips registration (useful in tests).
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkscan_http_attempts_total",
			Help: "Outbound HTTP attempts by method, status code and outcome.",
		}, []string{"method", "code", "outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkscan_http_attempt_duration_seconds",
			Help:    "Duration of outbound HTTP attempts.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(r.attempts, r.duration)
	}
	return r
}

// AddHook registers a hook invoked for every recorded attempt.
func (r *Recorder) AddHook(hook AttemptHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Record ingests one attempt record.
func (r *Recorder) Record(rec RequestAttempt, elapsed time.Duration) {
	outcome := "failure"
	if rec.Success {
		outcome = "success"
	}
	r.attempts.WithLabelValues(rec.Method, strconv.Itoa(rec.ResponseCode), outcome).Inc()
	r.duration.Observe(elapsed.Seconds())

	r.mu.Lock()
	if rec.Success {
		r.successfulRequests++
	} else {
		r.failedRequests++
	}
	if rec.ResponseCode == 429 {
		r.rateLimitedRequests++
	}
	if rec.WillRetry {
		r.retriedRequests++
	}
	hooks := make([]AttemptHook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(rec)
	}
}

// GetSuccessfulRequests returns the number of successful attempts.
func (r *Recorder) GetSuccessfulRequests() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successfulRequests
}

// GetFailedRequests returns the number of failed attempts.
func (r *Recorder) GetFailedRequests() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failedRequests
}

// GetRateLimitedRequests returns the number of 429 responses seen.
func (r *Recorder) GetRateLimitedRequests() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rateLimitedRequests
}

// GetRetriedRequests returns the number of attempts followed by a retry.
func (r *Recorder) GetRetriedRequests() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retriedRequests
}
