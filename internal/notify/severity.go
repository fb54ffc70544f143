// Package notify provides severity-gated, throttled, multi-channel summary
// notification dispatch with bounded persisted history.
package notify

import "strings"

// Severity is the ordered notification classification.
type Severity int

// Severity levels, ordered.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// ParseSeverity maps a config string to a Severity. Unknown values map to
// info.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "warning", "warn":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// String returns the canonical name.
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}
