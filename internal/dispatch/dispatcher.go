// Package dispatch orchestrates HEAD-then-GET probing of queued URLs.
package dispatch

import (
	"context"
	"net/http"

	"github.com/jonesrussell/linkscan/internal/logger"
	"github.com/jonesrussell/linkscan/internal/remote"
)

// ModePrecise makes the fallback decision stricter: ambiguous HEAD results
// are always confirmed with a GET before being treated as terminal.
const ModePrecise = "precise"

// Outcome is the result of probing one URL.
type Outcome struct {
	Response          *remote.Response
	Err               error
	HeadDisallowed    bool
	TemporaryFallback bool
	UsedGet           bool
}

// Callback receives the outcome of a check. It always fires before Drain
// returns.
type Callback func(Outcome)

// Check is one queued probe.
type Check struct {
	URL           string
	HeadArgs      remote.Options
	GetArgs       remote.Options
	Mode          string
	RetryStatuses []int
	Callback      Callback
}

// Prober is the outbound transport the dispatcher drives.
type Prober interface {
	Head(ctx context.Context, url string, opts remote.Options) (*remote.Response, error)
	Get(ctx context.Context, url string, opts remote.Options) (*remote.Response, error)
}

// Dispatcher queues checks and executes them on Drain.
type Dispatcher struct {
	client  Prober
	log     logger.Logger
	pending []Check
}

// NewDispatcher creates a Dispatcher over the given transport.
func NewDispatcher(client Prober, log logger.Logger) *Dispatcher {
	return &Dispatcher{client: client, log: log}
}

// Enqueue queues one check for the next Drain.
func (d *Dispatcher) Enqueue(check Check) {
	d.pending = append(d.pending, check)
}

// Pending returns the number of queued checks.
func (d *Dispatcher) Pending() int {
	return len(d.pending)
}

// Drain executes all queued checks in order. Each callback fires before
// Drain returns; the queue is empty afterwards.
func (d *Dispatcher) Drain(ctx context.Context) {
	checks := d.pending
	d.pending = nil

	for _, check := range checks {
		outcome := d.probe(ctx, check)
		if check.Callback != nil {
			check.Callback(outcome)
		}
	}
}

// probe attempts a HEAD first and falls back to GET when HEAD is disallowed
// or the result looks transient.
func (d *Dispatcher) probe(ctx context.Context, check Check) Outcome {
	headResp, headErr := d.client.Head(ctx, check.URL, check.HeadArgs)

	outcome := Outcome{Response: headResp, Err: headErr}

	switch {
	case headErr != nil:
		// Network-level HEAD failure: confirm with GET before calling it broken.
		outcome.TemporaryFallback = true
	case headDisallowed(headResp.StatusCode):
		outcome.HeadDisallowed = true
	case d.needsConfirmation(headResp.StatusCode, check):
		outcome.TemporaryFallback = true
	default:
		return outcome
	}

	getResp, getErr := d.client.Get(ctx, check.URL, check.GetArgs)
	outcome.UsedGet = true
	outcome.Response = getResp
	outcome.Err = getErr

	if getErr != nil {
		d.log.Debug("get fallback failed",
			logger.String("url", check.URL),
			logger.Error(getErr))
	}

	return outcome
}

// headDisallowed reports whether the status means the server rejects the
// HEAD method itself.
func headDisallowed(status int) bool {
	return status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented
}

// needsConfirmation reports whether a HEAD status should be re-verified
// with a GET rather than treated as terminal.
func (d *Dispatcher) needsConfirmation(status int, check Check) bool {
	for _, s := range check.RetryStatuses {
		if status == s {
			return true
		}
	}

	if check.Mode == ModePrecise && status >= http.StatusBadRequest {
		return true
	}

	return false
}
