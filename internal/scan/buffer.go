package scan

import (
	"context"
	"fmt"
)

// Buffer stages broken-reference rows in isolation. Rows become visible
// atomically at Commit; a failed commit reverts partial insert accounting
// before returning.
type Buffer struct {
	rows      []BrokenRow
	committed bool
}

// NewBuffer creates an empty staging buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add stages one row.
func (b *Buffer) Add(row BrokenRow) {
	b.rows = append(b.rows, row)
}

// Len returns the number of staged rows.
func (b *Buffer) Len() int {
	return len(b.rows)
}

// Rows returns the staged rows.
func (b *Buffer) Rows() []BrokenRow {
	return b.rows
}

// Commit persists the staged rows. On failure the partial insert footprint
// is compensated and the original error propagates unchanged.
func (b *Buffer) Commit(ctx context.Context, store DatasetStore) error {
	if b.committed {
		return nil
	}

	inserted, err := store.InsertRows(ctx, b.rows)
	if err != nil {
		if compErr := store.AdjustFootprint(ctx, -inserted); compErr != nil {
			return fmt.Errorf("footprint compensation failed (%v) after commit error: %w", compErr, err)
		}
		return err
	}

	b.committed = true
	return nil
}
