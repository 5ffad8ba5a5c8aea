// Package index is the durable per-test metadata store. Every
// read-modify-write goes through Update, which is atomic with respect to all
// other callers of the same Store.
package index

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/qaflow/qaflow/config"
	"github.com/qaflow/qaflow/model"
	"github.com/qaflow/qaflow/workspace"
	"github.com/rs/zerolog"
)

// Store maps sanitized test names to their IndexEntry.
type Store interface {
	// Ensure creates the entry if it does not exist and returns it.
	Ensure(name string, createdAt time.Time) (model.IndexEntry, error)
	// Get returns the entry and whether it exists.
	Get(name string) (model.IndexEntry, bool, error)
	// List returns all entries sorted by name.
	List() ([]model.IndexEntry, error)
	// Update applies fn to the entry, creating it first when missing, and
	// persists the result.
	Update(name string, fn func(*model.IndexEntry)) (model.IndexEntry, error)
	Close() error
}

// Open returns the store selected by cfg. A relative cfg.Path is resolved
// against the project root.
func Open(logger zerolog.Logger, cfg config.Index, layout *workspace.Layout) (Store, error) {
	path := cfg.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(layout.Root(), path)
	}
	switch cfg.Backend {
	case config.IndexBackendJSON, "":
		if path == "" {
			path = filepath.Join(layout.DataDir(), "tests_index.json")
		}
		return NewJSONStore(logger, path), nil
	case config.IndexBackendSQLite:
		if path == "" {
			path = filepath.Join(layout.DataDir(), "tests_index.db")
		}
		return NewSQLiteStore(logger, path)
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}

func sortEntries(entries []model.IndexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}
