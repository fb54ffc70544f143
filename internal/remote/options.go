package remote

import (
	"strconv"
	"strings"
)

// TimeoutConstraints bound a normalized timeout value, in seconds.
type TimeoutConstraints struct {
	Default float64
	Min     float64
	Max     float64
}

// NormalizeTimeout parses a loosely-typed timeout value and clamps it to the
// constraints. Comma decimal separators are accepted; non-numeric input
// falls back to the default.
func NormalizeTimeout(raw string, c TimeoutConstraints) float64 {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		value = c.Default
	}

	if value < c.Min {
		return c.Min
	}
	if value > c.Max {
		return c.Max
	}
	return value
}

// Options configures a single probe request.
type Options struct {
	// Timeout is a loosely-typed per-request timeout in seconds; it is
	// normalized against the client's constraints.
	Timeout string
	// Headers are sent verbatim; a blank or missing User-Agent is replaced
	// with a rotated value from the client's pool.
	Headers map[string]string
	// MaxAttempts overrides the client's retry budget when positive.
	MaxAttempts int
	// RetryStatuses overrides the retryable status set when non-empty.
	RetryStatuses []int
	// AllowPrivateHosts disables the public-host safety gate.
	AllowPrivateHosts bool
	// Region hints proxy selection.
	Region string
}

// headerValue performs a case-insensitive header lookup.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
