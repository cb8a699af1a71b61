// Package store persists raw pages, parsed post records, and the global
// index on disk. All paths are stable and addressable by post id.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyanglab/noticebot/internal/board"
)

// Store owns the on-disk layout:
//
//	<dataDir>/raw/<post_id>.html
//	<dataDir>/raw/images/<post_id>/img_N.<ext>
//	<dataDir>/parsed/<post_id>.json
//	<dataDir>/index.json
type Store struct {
	dataDir string
	logger  *zap.Logger

	mu    sync.Mutex
	index map[string]board.IndexEntry
}

// New opens (or initializes) a store rooted at dataDir and loads the index.
func New(dataDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range []string{
		dataDir,
		filepath.Join(dataDir, "raw"),
		filepath.Join(dataDir, "raw", "images"),
		filepath.Join(dataDir, "parsed"),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", dir, err)
		}
	}
	s := &Store{
		dataDir: dataDir,
		logger:  logger,
		index:   make(map[string]board.IndexEntry),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read index: %w", err)
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	return nil
}

// Exists reports whether a post id is in the index.
func (s *Store) Exists(postID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[postID]
	return ok
}

// Write persists the full record for a post: raw HTML, parsed JSON, and the
// index entry. Each file lands via temp-file-plus-rename so a record is never
// visible half written; the index entry is written last, so an indexed id
// always has a readable record. Writing the same id again overwrites.
func (s *Store) Write(ctx context.Context, post board.Post, rawHTML []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	if post.PostID == "" {
		return fmt.Errorf("post id is required")
	}
	if post.FetchedAt.IsZero() {
		post.FetchedAt = time.Now().UTC()
	}
	if post.PublishedAt.IsZero() {
		post.PublishedAt = post.FetchedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(rawHTML) > 0 {
		rawPath := s.rawPath(post.PostID)
		if err := writeFileAtomic(rawPath, rawHTML); err != nil {
			return fmt.Errorf("write raw html: %w", err)
		}
		post.RawHTMLPath = rawPath
	}

	payload, err := json.MarshalIndent(post, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal post %s: %w", post.PostID, err)
	}
	if err := writeFileAtomic(s.parsedPath(post.PostID), payload); err != nil {
		return fmt.Errorf("write parsed record: %w", err)
	}

	s.index[post.PostID] = board.IndexEntry{
		URL:         post.URL,
		Title:       post.Title,
		PublishedAt: post.PublishedAt,
		FetchedAt:   post.FetchedAt,
	}
	if err := s.persistIndexLocked(); err != nil {
		return err
	}
	return nil
}

// Read returns the parsed record for a post id.
func (s *Store) Read(postID string) (board.Post, error) {
	data, err := os.ReadFile(s.parsedPath(postID))
	if err != nil {
		if os.IsNotExist(err) {
			return board.Post{}, board.ErrNotFound
		}
		return board.Post{}, fmt.Errorf("read post %s: %w", postID, err)
	}
	var post board.Post
	if err := json.Unmarshal(data, &post); err != nil {
		return board.Post{}, fmt.Errorf("decode post %s: %w", postID, err)
	}
	return post, nil
}

// UpdateParsed rewrites only the parsed record for an existing post. Used by
// the OCR repair pass; the raw HTML and index entry are untouched.
func (s *Store) UpdateParsed(post board.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[post.PostID]; !ok {
		return board.ErrNotFound
	}
	payload, err := json.MarshalIndent(post, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal post %s: %w", post.PostID, err)
	}
	if err := writeFileAtomic(s.parsedPath(post.PostID), payload); err != nil {
		return fmt.Errorf("write parsed record: %w", err)
	}
	return nil
}

// ListIDs returns all known post ids in lexical order.
func (s *Store) ListIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListIndex returns a copy of the index.
func (s *Store) ListIndex() map[string]board.IndexEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]board.IndexEntry, len(s.index))
	for id, entry := range s.index {
		out[id] = entry
	}
	return out
}

// SaveImage stores one downloaded image under the post's image directory and
// returns its path.
func (s *Store) SaveImage(postID, filename string, data []byte) (string, error) {
	dir := filepath.Join(s.dataDir, "raw", "images", postID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	path := filepath.Join(dir, filename)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

// DataDir returns the store root, used for advisory lock scoping.
func (s *Store) DataDir() string {
	return s.dataDir
}

func (s *Store) persistIndexLocked() error {
	payload, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := writeFileAtomic(s.indexPath(), payload); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func (s *Store) rawPath(postID string) string {
	return filepath.Join(s.dataDir, "raw", postID+".html")
}

func (s *Store) parsedPath(postID string) string {
	return filepath.Join(s.dataDir, "parsed", postID+".json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dataDir, "index.json")
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
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
