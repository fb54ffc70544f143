// Package queue provides the pluggable batch job queue: a shared driver
// contract with a delay-scheduler backend and a Redis list backend.
package queue

import (
	"context"
	"time"
)

// Job is one scheduled batch. The queue backend owns it until it is
// acknowledged or failed.
type Job struct {
	Batch            int            `json:"batch"`
	IsFullScan       bool           `json:"is_full_scan"`
	BypassRestWindow bool           `json:"bypass_rest_window"`
	Context          map[string]any `json:"context,omitempty"`
	AvailableAt      time.Time      `json:"available_at"`
	EnqueuedAt       time.Time      `json:"enqueued_at"`
	Attempt          int            `json:"attempt,omitempty"`
}

// Driver is the shared queue contract. Backend choice is a
// configuration-time decision.
type Driver interface {
	// ScheduleBatch enqueues job for execution after delay. Delivery is
	// at-least-once.
	ScheduleBatch(ctx context.Context, job Job, delay time.Duration) bool
	// ReceiveBatch pulls the next ready job. Push-based backends always
	// return nil.
	ReceiveBatch(ctx context.Context) (*Job, error)
	// Acknowledge marks successful completion.
	Acknowledge(ctx context.Context, job *Job)
	// ReportFailure records a failed job for retry or inspection.
	ReportFailure(ctx context.Context, job *Job, jobErr error)
	// IsConnected reports whether the backend is reachable.
	IsConnected() bool
	// SupportsAsyncPull reports whether ReceiveBatch can block for work.
	SupportsAsyncPull() bool
}
