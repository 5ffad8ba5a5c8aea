package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/qaflow/qaflow/config"
	"github.com/qaflow/qaflow/model"
	"github.com/qaflow/qaflow/workspace"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func backends() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"json": func(t *testing.T) Store {
			return NewJSONStore(zerolog.Nop(), filepath.Join(t.TempDir(), "tests_index.json"))
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(zerolog.Nop(), filepath.Join(t.TempDir(), "tests_index.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStoreEnsure(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

			entry, err := s.Ensure("login_flow", created)
			require.NoError(t, err)
			require.Equal(t, "login_flow", entry.Name)
			require.Equal(t, created, entry.CreatedAt)
			require.Nil(t, entry.LastStatus)
			require.Nil(t, entry.LastRunAt)

			// A second Ensure keeps the original creation time
			entry, err = s.Ensure("login_flow", created.Add(time.Hour))
			require.NoError(t, err)
			require.Equal(t, created, entry.CreatedAt)

			_, ok, err := s.Get("missing")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestStoreUpdate(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			runAt := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)

			_, err := s.Update("checkout", func(e *model.IndexEntry) {
				e.SetAppURL("http://shop.local")
			})
			require.NoError(t, err)

			_, err = s.Update("checkout", func(e *model.IndexEntry) {
				e.RecordRun(runAt, model.StatusPassed, "reports/checkout-1.md")
			})
			require.NoError(t, err)

			// An unknown status keeps the previous one but stamps the run time
			_, err = s.Update("checkout", func(e *model.IndexEntry) {
				e.RecordRun(runAt.Add(time.Minute), "", "")
			})
			require.NoError(t, err)

			entry, ok, err := s.Get("checkout")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, model.StatusPassed, *entry.LastStatus)
			require.Equal(t, "reports/checkout-1.md", *entry.LastReportFile)
			require.Equal(t, "http://shop.local", *entry.LastAppURL)
			require.Equal(t, runAt.Add(time.Minute), *entry.LastRunAt)
			require.False(t, entry.CreatedAt.IsZero())
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			for _, n := range []string{"zeta", "alpha", "mid"} {
				_, err := s.Ensure(n, time.Now())
				require.NoError(t, err)
			}

			entries, err := s.List()
			require.NoError(t, err)
			require.Len(t, entries, 3)
			require.Equal(t, "alpha", entries[0].Name)
			require.Equal(t, "mid", entries[1].Name)
			require.Equal(t, "zeta", entries[2].Name)
		})
	}
}

func TestStoreConcurrentUpdates(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			const workers = 20

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					testName := fmt.Sprintf("test-%02d", i%5)
					_, err := s.Update(testName, func(e *model.IndexEntry) {
						e.SetAppURL(fmt.Sprintf("http://app/%d", i))
					})
					if err != nil {
						t.Error(err)
					}
				}(i)
			}
			wg.Wait()

			entries, err := s.List()
			require.NoError(t, err)
			require.Len(t, entries, 5)
			for _, e := range entries {
				require.NotNil(t, e.LastAppURL)
			}
		})
	}
}

func TestJSONStoreDocumentFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tests_index.json")
	s := NewJSONStore(zerolog.Nop(), path)

	_, err := s.Ensure("login", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{
  "login": {
    "name": "login",
    "created_at": "2025-01-02T03:04:05Z",
    "last_run_at": null,
    "last_status": null,
    "last_report_file": null,
    "last_app_url": null
  }
}`, string(data))
}

func TestJSONStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tests_index.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	s := NewJSONStore(zerolog.Nop(), path)

	entries, err := s.List()
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = s.Ensure("recovered", time.Now())
	require.NoError(t, err)
	entries, err = s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestOpen(t *testing.T) {
	layout, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	s, err := Open(zerolog.Nop(), config.Index{Backend: config.IndexBackendJSON}, layout)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(layout.DataDir(), "tests_index.json"), s.(*JSONStore).Path())

	s, err = Open(zerolog.Nop(), config.Index{Backend: config.IndexBackendSQLite, Path: "state/index.db"}, layout)
	require.NoError(t, err)
	defer s.Close()
	_, err = os.Stat(filepath.Join(layout.Root(), "state", "index.db"))
	require.NoError(t, err)

	_, err = Open(zerolog.Nop(), config.Index{Backend: "redis"}, layout)
	require.Error(t, err)
}
