// Package scan drives one verification batch end to end: lock acquisition,
// dataset staging, reference probing, atomic commit and notification.
package scan

import (
	"context"
	"time"
)

// Reference kinds.
const (
	KindLink  = "link"
	KindImage = "image"
)

// Reference is one outbound reference discovered in a source. References
// without a scheme are treated as local paths under the content root.
type Reference struct {
	URL  string
	Kind string
}

// Source is one content item with its pre-extracted references. Markup
// extraction happens upstream; this layer never parses content.
type Source struct {
	ID         string
	Title      string
	References []Reference
}

// SourceProvider enumerates the content corpus for a batch.
type SourceProvider interface {
	Sources(ctx context.Context, batch int, fullScan bool) ([]Source, error)
}

// BrokenRow is one verified-broken reference staged for persistence.
type BrokenRow struct {
	SourceID   string
	URL        string
	Kind       string
	StatusCode int
	Reason     string
	CheckedAt  time.Time
}

// DatasetStore persists scan results. The concrete storage engine is an
// external collaborator; this layer only sees row inserts and footprint
// accounting.
type DatasetStore interface {
	// InsertRows persists staged rows, returning how many were written
	// before any failure.
	InsertRows(ctx context.Context, rows []BrokenRow) (int, error)
	// AdjustFootprint compensates storage accounting by delta rows.
	AdjustFootprint(ctx context.Context, delta int) error
}
