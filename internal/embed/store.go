// Package embed builds and persists embedding records for stored posts.
package embed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyanglab/noticebot/internal/board"
)

// Record pairs a post id with its vector and the hash of the text the vector
// was computed from. A record whose hash no longer matches the post's current
// text is stale and eligible for re-embedding.
type Record struct {
	PostID      string    `json:"post_id"`
	Vector      []float64 `json:"vector"`
	SourceHash  string    `json:"source_text_hash"`
	PublishedAt time.Time `json:"published_at"`
	BuiltAt     time.Time `json:"built_at"`
}

// Store keeps at most one Record per post id in a single JSON file. Records
// are replaced, never mutated in place; batch writes land atomically.
type Store struct {
	path string

	mu        sync.RWMutex
	records   map[string]Record
	dimension int
}

// OpenStore loads (or initializes) the embedding store at path.
func OpenStore(path string) (*Store, error) {
	s := &Store{
		path:    path,
		records: make(map[string]Record),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read embedding store: %w", err)
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("decode embedding store: %w", err)
	}
	for _, rec := range s.records {
		s.dimension = len(rec.Vector)
		break
	}
	return s, nil
}

// Get returns the record for a post id, if any.
func (s *Store) Get(postID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[postID]
	return rec, ok
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Dimension returns the vector dimensionality, 0 when empty.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Records returns a snapshot of all records.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

// PutBatch persists a batch of records: either all of them become durably
// visible or none do. Vectors must share the store's dimensionality; a
// mismatch means two embedding models were mixed, which is fatal.
func (s *Store) PutBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	for _, rec := range records {
		if len(rec.Vector) == 0 {
			return fmt.Errorf("empty vector for post %s", rec.PostID)
		}
		if dim == 0 {
			dim = len(rec.Vector)
		}
		if len(rec.Vector) != dim {
			return &board.ConfigurationError{
				Reason: fmt.Sprintf("embedding dimension mismatch: store has %d, got %d", dim, len(rec.Vector)),
			}
		}
	}

	next := make(map[string]Record, len(s.records)+len(records))
	for id, rec := range s.records {
		next[id] = rec
	}
	for _, rec := range records {
		next[rec.PostID] = rec
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal embedding store: %w", err)
	}
	if err := writeFileAtomic(s.path, payload); err != nil {
		return fmt.Errorf("write embedding store: %w", err)
	}

	s.records = next
	s.dimension = dim
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
