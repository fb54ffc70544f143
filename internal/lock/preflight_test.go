package lock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/linkscan/internal/lock"
)

func TestCollect_Defaults(t *testing.T) {
	pf := lock.Collect(lock.Settings{}, 2, true, false)

	assert.Equal(t, 2, pf.Batch)
	assert.True(t, pf.IsFullScan)
	assert.False(t, pf.BypassRestWindow)
	assert.Equal(t, 200*time.Millisecond, pf.LinkDelay)
	assert.Equal(t, 60*time.Second, pf.BatchDelay)
	assert.Equal(t, 900*time.Second, pf.LockTTL)
	assert.InDelta(t, 8.0, pf.LoadThreshold, 0.001)
}

func TestCollect_Clamps(t *testing.T) {
	testCases := []struct {
		name     string
		settings lock.Settings
		check    func(t *testing.T, pf lock.Context)
	}{
		{
			name:     "link delay above max",
			settings: lock.Settings{LinkDelayMS: 120_000},
			check: func(t *testing.T, pf lock.Context) {
				assert.Equal(t, 60*time.Second, pf.LinkDelay)
			},
		},
		{
			name:     "negative link delay floors at zero",
			settings: lock.Settings{LinkDelayMS: -50},
			check: func(t *testing.T, pf lock.Context) {
				assert.Equal(t, time.Duration(0), pf.LinkDelay)
			},
		},
		{
			name:     "batch delay above max",
			settings: lock.Settings{BatchDelaySeconds: 100_000},
			check: func(t *testing.T, pf lock.Context) {
				assert.Equal(t, time.Hour, pf.BatchDelay)
			},
		},
		{
			name:     "lock ttl below min",
			settings: lock.Settings{LockTTLSeconds: 5},
			check: func(t *testing.T, pf lock.Context) {
				assert.Equal(t, 30*time.Second, pf.LockTTL)
			},
		},
		{
			name:     "lock ttl above max",
			settings: lock.Settings{LockTTLSeconds: 100_000},
			check: func(t *testing.T, pf lock.Context) {
				assert.Equal(t, 6*time.Hour, pf.LockTTL)
			},
		},
		{
			name:     "out of range hours reset to zero",
			settings: lock.Settings{RestWindowStart: 25, RestWindowEnd: -3},
			check: func(t *testing.T, pf lock.Context) {
				assert.Equal(t, 0, pf.RestWindowStart)
				assert.Equal(t, 0, pf.RestWindowEnd)
				assert.False(t, pf.RestWindowEnabled())
			},
		},
		{
			name:     "non-positive load threshold defaults",
			settings: lock.Settings{LoadThreshold: -1},
			check: func(t *testing.T, pf lock.Context) {
				assert.InDelta(t, 8.0, pf.LoadThreshold, 0.001)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, lock.Collect(tc.settings, 0, false, false))
		})
	}
}

func TestInRestWindow(t *testing.T) {
	testCases := []struct {
		name       string
		start, end int
		hour       int
		want       bool
	}{
		{name: "simple window inside", start: 1, end: 5, hour: 3, want: true},
		{name: "simple window before", start: 1, end: 5, hour: 0, want: false},
		{name: "simple window at end", start: 1, end: 5, hour: 5, want: false},
		{name: "wrap-around late evening", start: 22, end: 6, hour: 23, want: true},
		{name: "wrap-around early morning", start: 22, end: 6, hour: 4, want: true},
		{name: "wrap-around midday", start: 22, end: 6, hour: 12, want: false},
		{name: "wrap-around at end", start: 22, end: 6, hour: 6, want: false},
		{name: "identical bounds disable window", start: 3, end: 3, hour: 3, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pf := lock.Collect(lock.Settings{
				RestWindowStart: tc.start,
				RestWindowEnd:   tc.end,
			}, 0, false, false)

			assert.Equal(t, tc.want, pf.InRestWindow(tc.hour))
		})
	}
}
