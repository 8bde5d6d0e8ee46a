package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// fileRecord is the on-disk shape of one snapshot entry.
type fileRecord struct {
	Platforms []string `json:"platforms"`
	TS        float64  `json:"ts"` // epoch seconds
}

// FileStore keeps every snapshot in a single JSON document and rewrites the
// whole document synchronously on each mutation. Fine at this system's
// scale: population in the thousands, writes infrequent.
type FileStore struct {
	mu      sync.Mutex
	path    string
	entries map[string]fileRecord
}

// OpenFileStore loads the document at path. An absent or malformed document
// yields an empty store rather than an error.
func OpenFileStore(path string) *FileStore {
	s := &FileStore{path: path, entries: make(map[string]fileRecord)}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var entries map[string]fileRecord
	if err := json.Unmarshal(data, &entries); err != nil {
		return s
	}
	if entries != nil {
		s.entries = entries
	}
	return s
}

func (s *FileStore) Put(ctx context.Context, userID int64, platforms []string, capturedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[strconv.FormatInt(userID, 10)] = fileRecord{
		Platforms: append([]string(nil), platforms...),
		TS:        float64(capturedAt.UnixNano()) / float64(time.Second),
	}
	return s.persist()
}

func (s *FileStore) Get(ctx context.Context, userID int64) ([]string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entries[strconv.FormatInt(userID, 10)]
	if !ok {
		return nil, time.Time{}, ErrNotFound
	}
	capturedAt := time.Unix(0, int64(rec.TS*float64(time.Second)))
	return append([]string(nil), rec.Platforms...), capturedAt, nil
}

func (s *FileStore) Delete(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strconv.FormatInt(userID, 10)
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.persist()
}

// persist must be called with s.mu held.
func (s *FileStore) persist() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot document: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot document to %s: %w", s.path, err)
	}
	return nil
}
