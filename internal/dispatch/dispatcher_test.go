package dispatch_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/linkscan/internal/dispatch"
	"github.com/jonesrussell/linkscan/internal/logger"
	"github.com/jonesrussell/linkscan/internal/remote"
)

// fakeProber scripts per-method responses and records calls.
type fakeProber struct {
	headStatus int
	headErr    error
	getStatus  int
	getErr     error

	headCalls []string
	getCalls  []string
}

func (p *fakeProber) Head(_ context.Context, url string, _ remote.Options) (*remote.Response, error) {
	p.headCalls = append(p.headCalls, url)
	if p.headErr != nil {
		return nil, p.headErr
	}
	return &remote.Response{StatusCode: p.headStatus}, nil
}

func (p *fakeProber) Get(_ context.Context, url string, _ remote.Options) (*remote.Response, error) {
	p.getCalls = append(p.getCalls, url)
	if p.getErr != nil {
		return nil, p.getErr
	}
	return &remote.Response{StatusCode: p.getStatus}, nil
}

func drainOne(t *testing.T, prober *fakeProber, check dispatch.Check) dispatch.Outcome {
	t.Helper()

	d := dispatch.NewDispatcher(prober, logger.Nop())

	var outcome dispatch.Outcome
	fired := false
	check.Callback = func(o dispatch.Outcome) {
		outcome = o
		fired = true
	}

	d.Enqueue(check)
	require.Equal(t, 1, d.Pending())

	d.Drain(context.Background())
	require.True(t, fired, "callback must fire before Drain returns")
	require.Zero(t, d.Pending())
	return outcome
}

func TestDispatcher_HealthyHeadSkipsGet(t *testing.T) {
	prober := &fakeProber{headStatus: http.StatusOK}

	outcome := drainOne(t, prober, dispatch.Check{URL: "https://example.com"})

	assert.False(t, outcome.UsedGet)
	assert.Equal(t, http.StatusOK, outcome.Response.StatusCode)
	assert.Empty(t, prober.getCalls)
}

func TestDispatcher_HeadDisallowedFallsBackToGet(t *testing.T) {
	for _, status := range []int{http.StatusMethodNotAllowed, http.StatusNotImplemented} {
		prober := &fakeProber{headStatus: status, getStatus: http.StatusOK}

		outcome := drainOne(t, prober, dispatch.Check{URL: "https://example.com"})

		assert.True(t, outcome.HeadDisallowed)
		assert.True(t, outcome.UsedGet)
		assert.Equal(t, http.StatusOK, outcome.Response.StatusCode)
	}
}

func TestDispatcher_HeadErrorConfirmedWithGet(t *testing.T) {
	prober := &fakeProber{headErr: errors.New("connection reset"), getStatus: http.StatusOK}

	outcome := drainOne(t, prober, dispatch.Check{URL: "https://example.com"})

	assert.True(t, outcome.TemporaryFallback)
	assert.True(t, outcome.UsedGet)
	require.NoError(t, outcome.Err)
	assert.Equal(t, http.StatusOK, outcome.Response.StatusCode)
}

func TestDispatcher_RetryStatusTriggersConfirmation(t *testing.T) {
	prober := &fakeProber{headStatus: http.StatusForbidden, getStatus: http.StatusForbidden}

	outcome := drainOne(t, prober, dispatch.Check{
		URL:           "https://example.com",
		RetryStatuses: []int{http.StatusForbidden},
	})

	assert.True(t, outcome.TemporaryFallback)
	assert.True(t, outcome.UsedGet)
	assert.Equal(t, http.StatusForbidden, outcome.Response.StatusCode)
}

func TestDispatcher_PreciseModeConfirmsClientErrors(t *testing.T) {
	prober := &fakeProber{headStatus: http.StatusNotFound, getStatus: http.StatusNotFound}

	outcome := drainOne(t, prober, dispatch.Check{
		URL:  "https://example.com",
		Mode: dispatch.ModePrecise,
	})

	assert.True(t, outcome.TemporaryFallback)
	assert.True(t, outcome.UsedGet)
	assert.Equal(t, http.StatusNotFound, outcome.Response.StatusCode)
}

func TestDispatcher_DefaultModeTreatsClientErrorAsTerminal(t *testing.T) {
	prober := &fakeProber{headStatus: http.StatusNotFound}

	outcome := drainOne(t, prober, dispatch.Check{URL: "https://example.com"})

	assert.False(t, outcome.UsedGet)
	assert.Equal(t, http.StatusNotFound, outcome.Response.StatusCode)
}

func TestDispatcher_DrainPreservesOrder(t *testing.T) {
	prober := &fakeProber{headStatus: http.StatusOK}
	d := dispatch.NewDispatcher(prober, logger.Nop())

	var order []string
	for _, url := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		u := url
		d.Enqueue(dispatch.Check{URL: u, Callback: func(dispatch.Outcome) {
			order = append(order, u)
		}})
	}

	d.Drain(context.Background())

	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, order)
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, prober.headCalls)
}
