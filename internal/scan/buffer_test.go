package scan_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/linkscan/internal/scan"
)

// flakyStore fails InsertRows after writing failAfter rows.
type flakyStore struct {
	failAfter   int
	insertErr   error
	inserted    int
	adjustments []int
}

func (s *flakyStore) InsertRows(_ context.Context, rows []scan.BrokenRow) (int, error) {
	if s.insertErr != nil {
		n := min(s.failAfter, len(rows))
		s.inserted += n
		return n, s.insertErr
	}
	s.inserted += len(rows)
	return len(rows), nil
}

func (s *flakyStore) AdjustFootprint(_ context.Context, delta int) error {
	s.adjustments = append(s.adjustments, delta)
	return nil
}

func TestBuffer_CommitSuccess(t *testing.T) {
	buffer := scan.NewBuffer()
	buffer.Add(scan.BrokenRow{URL: "https://a.example", Reason: "http_error"})
	buffer.Add(scan.BrokenRow{URL: "https://b.example", Reason: "connection_failed"})
	require.Equal(t, 2, buffer.Len())

	store := &flakyStore{}
	require.NoError(t, buffer.Commit(context.Background(), store))

	assert.Equal(t, 2, store.inserted)
	assert.Empty(t, store.adjustments)

	// A second commit is a no-op.
	require.NoError(t, buffer.Commit(context.Background(), store))
	assert.Equal(t, 2, store.inserted)
}

func TestBuffer_CommitFailureCompensatesFootprint(t *testing.T) {
	buffer := scan.NewBuffer()
	for i := 0; i < 5; i++ {
		buffer.Add(scan.BrokenRow{URL: "https://a.example"})
	}

	insertErr := errors.New("disk full")
	store := &flakyStore{failAfter: 2, insertErr: insertErr}

	err := buffer.Commit(context.Background(), store)
	require.ErrorIs(t, err, insertErr, "original error must propagate unchanged")

	assert.Equal(t, []int{-2}, store.adjustments, "partial inserts are compensated")
}

func TestBuffer_CommitFailureWithCompensationError(t *testing.T) {
	buffer := scan.NewBuffer()
	buffer.Add(scan.BrokenRow{URL: "https://a.example"})

	insertErr := errors.New("disk full")
	store := &compensationFailingStore{insertErr: insertErr}

	err := buffer.Commit(context.Background(), store)
	require.Error(t, err)
	assert.ErrorIs(t, err, insertErr, "commit error stays in the chain")
	assert.Contains(t, err.Error(), "footprint compensation failed")
}

type compensationFailingStore struct {
	insertErr error
}

func (s *compensationFailingStore) InsertRows(context.Context, []scan.BrokenRow) (int, error) {
	return 0, s.insertErr
}

func (s *compensationFailingStore) AdjustFootprint(context.Context, int) error {
	return errors.New("counter unavailable")
}
