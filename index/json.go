package index

// This file contains the JSON document backend: one file mapping test name
// to entry, rewritten in full on every change.

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qaflow/qaflow/model"
	"github.com/rs/zerolog"
)

// JSONStore keeps the index in a single JSON document.
type JSONStore struct {
	logger zerolog.Logger
	path   string
	now    func() time.Time

	mu sync.Mutex
}

// NewJSONStore returns a store backed by the document at path. The file is
// created on first write.
func NewJSONStore(logger zerolog.Logger, path string) *JSONStore {
	return &JSONStore{
		logger: logger.With().Str("component", "index").Logger(),
		path:   path,
		now:    time.Now,
	}
}

// Path returns the location of the document.
func (s *JSONStore) Path() string {
	return s.path
}

func (s *JSONStore) Ensure(name string, createdAt time.Time) (model.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.read()
	if entry, ok := idx[name]; ok {
		return entry, nil
	}
	entry := model.NewIndexEntry(name, createdAt)
	idx[name] = entry
	if err := s.write(idx); err != nil {
		return entry, err
	}
	s.logger.Debug().Str("test", name).Msg("Registered test in index")
	return entry, nil
}

func (s *JSONStore) Get(name string) (model.IndexEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.read()[name]
	return entry, ok, nil
}

func (s *JSONStore) List() ([]model.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.read()
	entries := make([]model.IndexEntry, 0, len(idx))
	for _, entry := range idx {
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries, nil
}

func (s *JSONStore) Update(name string, fn func(*model.IndexEntry)) (model.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.read()
	entry, ok := idx[name]
	if !ok {
		entry = model.NewIndexEntry(name, s.now())
	}
	fn(&entry)
	entry.Name = name
	idx[name] = entry
	return entry, s.write(idx)
}

func (s *JSONStore) Close() error {
	return nil
}

// read loads the document. A missing or corrupt document reads as empty so
// bookkeeping keeps working; corruption is logged.
func (s *JSONStore) read() map[string]model.IndexEntry {
	idx := make(map[string]model.IndexEntry)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return idx
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to read index")
		return idx
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to parse index, treating as empty")
		return make(map[string]model.IndexEntry)
	}
	for name, entry := range idx {
		if entry.Name == "" {
			entry.Name = name
			idx[name] = entry
		}
	}
	return idx
}

// write replaces the document atomically via a temp file in the same directory.
func (s *JSONStore) write(idx map[string]model.IndexEntry) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tests_index-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp index: %w", err)
	}
	defer os.Remove(tmp.Name())
	_ = tmp.Chmod(0644)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}
