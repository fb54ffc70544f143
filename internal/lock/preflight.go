// Package lock provides single-flight scan locking: preflight parameter
// normalization, atomic lock acquisition with rescheduling, and deferral for
// rest windows and host load.
package lock

import "time"

// Clamp bounds for preflight normalization.
const (
	maxHour = 23

	minLinkDelayMS = 0
	maxLinkDelayMS = 60_000

	minBatchDelaySeconds = 1
	maxBatchDelaySeconds = 3600

	minLockTTLSeconds = 30
	maxLockTTLSeconds = 6 * 3600

	defaultLinkDelayMS       = 200
	defaultBatchDelaySeconds = 60
	defaultLockTTLSeconds    = 900
	defaultLoadThreshold     = 8.0
)

// Settings are the raw configuration inputs to preflight.
type Settings struct {
	RestWindowStart   int
	RestWindowEnd     int
	LinkDelayMS       int
	BatchDelaySeconds int
	LockTTLSeconds    int
	LoadThreshold     float64
	TriggerHook       string
	Debug             bool
}

// Context is the immutable per-run preflight context, derived once from
// configuration plus batch arguments. Never mutated after creation.
type Context struct {
	Batch            int
	IsFullScan       bool
	BypassRestWindow bool

	RestWindowStart int
	RestWindowEnd   int
	LinkDelay       time.Duration
	BatchDelay      time.Duration
	LockTTL         time.Duration
	LoadThreshold   float64
	TriggerHook     string
	Debug           bool
}

// Collect normalizes settings into a preflight context, clamping to sane
// ranges and defaulting invalid values. Pure function; no side effects.
func Collect(s Settings, batch int, isFullScan, bypassRestWindow bool) Context {
	linkDelay := clampInt(s.LinkDelayMS, minLinkDelayMS, maxLinkDelayMS, defaultLinkDelayMS)
	batchDelay := clampInt(s.BatchDelaySeconds, minBatchDelaySeconds, maxBatchDelaySeconds, defaultBatchDelaySeconds)
	lockTTL := clampInt(s.LockTTLSeconds, minLockTTLSeconds, maxLockTTLSeconds, defaultLockTTLSeconds)

	threshold := s.LoadThreshold
	if threshold <= 0 {
		threshold = defaultLoadThreshold
	}

	return Context{
		Batch:            batch,
		IsFullScan:       isFullScan,
		BypassRestWindow: bypassRestWindow,
		RestWindowStart:  clampHour(s.RestWindowStart),
		RestWindowEnd:    clampHour(s.RestWindowEnd),
		LinkDelay:        time.Duration(linkDelay) * time.Millisecond,
		BatchDelay:       time.Duration(batchDelay) * time.Second,
		LockTTL:          time.Duration(lockTTL) * time.Second,
		LoadThreshold:    threshold,
		TriggerHook:      s.TriggerHook,
		Debug:            s.Debug,
	}
}

// RestWindowEnabled reports whether a rest window is configured at all.
// Identical bounds mean no window.
func (c Context) RestWindowEnabled() bool {
	return c.RestWindowStart != c.RestWindowEnd
}

// InRestWindow reports whether hour falls inside the window. Wrap-around
// ranges (e.g. 22 -> 6) are supported.
func (c Context) InRestWindow(hour int) bool {
	if !c.RestWindowEnabled() {
		return false
	}
	if c.RestWindowStart < c.RestWindowEnd {
		return hour >= c.RestWindowStart && hour < c.RestWindowEnd
	}
	return hour >= c.RestWindowStart || hour < c.RestWindowEnd
}

func clampHour(h int) int {
	if h < 0 || h > maxHour {
		return 0
	}
	return h
}

func clampInt(v, minV, maxV, def int) int {
	if v == 0 {
		return def
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
