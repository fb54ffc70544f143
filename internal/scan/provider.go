package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jonesrussell/linkscan/internal/logger"
)

// FileProvider reads the content corpus from a JSON sources file. It is the
// default SourceProvider; real deployments plug their CMS behind the same
// interface.
type FileProvider struct {
	path      string
	batchSize int
}

// fileSource is the on-disk source shape.
type fileSource struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	References []struct {
		URL  string `json:"url"`
		Kind string `json:"kind"`
	} `json:"references"`
}

// NewFileProvider creates a provider over a JSON sources file, slicing the
// corpus into batches of batchSize sources.
func NewFileProvider(path string, batchSize int) *FileProvider {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &FileProvider{path: path, batchSize: batchSize}
}

// Sources returns the batch-th slice of the corpus. A full scan ignores
// batching and returns everything.
func (p *FileProvider) Sources(_ context.Context, batch int, fullScan bool) ([]Source, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var raw []fileSource
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode sources file: %w", err)
	}

	sources := make([]Source, 0, len(raw))
	for _, item := range raw {
		src := Source{ID: item.ID, Title: item.Title}
		for _, ref := range item.References {
			kind := ref.Kind
			if kind == "" {
				kind = KindLink
			}
			src.References = append(src.References, Reference{URL: ref.URL, Kind: kind})
		}
		sources = append(sources, src)
	}

	if fullScan {
		return sources, nil
	}

	start := batch * p.batchSize
	if start >= len(sources) {
		return nil, nil
	}
	end := min(start+p.batchSize, len(sources))
	return sources[start:end], nil
}

// JSONLStore is the default DatasetStore: broken rows append to a JSON
// lines file with a footprint counter. Real deployments plug their storage
// engine behind the same interface.
type JSONLStore struct {
	path string
	log  logger.Logger

	mu        sync.Mutex
	footprint int
}

// NewJSONLStore creates a JSONL-backed dataset store.
func NewJSONLStore(path string, log logger.Logger) *JSONLStore {
	return &JSONLStore{path: path, log: log}
}

// jsonlRow is the persisted row shape.
type jsonlRow struct {
	SourceID   string    `json:"source_id"`
	URL        string    `json:"url"`
	Kind       string    `json:"kind"`
	StatusCode int       `json:"status_code,omitempty"`
	Reason     string    `json:"reason"`
	CheckedAt  time.Time `json:"checked_at"`
}

// InsertRows appends rows to the file, returning how many were written
// before any failure.
func (s *JSONLStore) InsertRows(_ context.Context, rows []BrokenRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open results file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	written := 0
	for _, row := range rows {
		if err := enc.Encode(jsonlRow(row)); err != nil {
			return written, fmt.Errorf("write result row: %w", err)
		}
		written++
		s.mu.Lock()
		s.footprint++
		s.mu.Unlock()
	}

	return written, nil
}

// AdjustFootprint compensates the footprint counter.
func (s *JSONLStore) AdjustFootprint(_ context.Context, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.footprint += delta
	s.log.Debug("storage footprint adjusted",
		logger.Int("delta", delta),
		logger.Int("footprint", s.footprint))
	return nil
}

// Footprint returns the current row accounting.
func (s *JSONLStore) Footprint() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.footprint
}
