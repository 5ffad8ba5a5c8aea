// Package catalog answers questions about the tests known to a project: the
// generated code on disk, the index metadata and the archived reports.
package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/qaflow/qaflow/apperr"
	"github.com/qaflow/qaflow/index"
	"github.com/qaflow/qaflow/model"
	"github.com/qaflow/qaflow/workspace"
	"github.com/rs/zerolog"
)

// Catalog reads and updates tests under a project root.
type Catalog struct {
	logger zerolog.Logger
	layout *workspace.Layout
	index  index.Store
	now    func() time.Time
}

// New returns a catalog over layout and store.
func New(logger zerolog.Logger, layout *workspace.Layout, store index.Store) *Catalog {
	return &Catalog{
		logger: logger.With().Str("component", "catalog").Logger(),
		layout: layout,
		index:  store,
		now:    time.Now,
	}
}

// ListTests registers every generated test file that has no index entry yet,
// using the file's modification time as its creation time, and returns all
// entries sorted by name.
func (c *Catalog) ListTests() ([]model.IndexEntry, error) {
	files, err := c.layout.ListTestFiles()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to list tests")
	}

	for _, f := range files {
		if workspace.SanitizeName(f.Name) != f.Name {
			c.logger.Warn().Str("file", f.Path).Msg("Skipping test file with unsafe name")
			continue
		}
		if _, err := c.index.Ensure(f.Name, f.ModTime); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to register test %s", f.Name)
		}
	}

	entries, err := c.index.List()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to read index")
	}
	if entries == nil {
		entries = []model.IndexEntry{}
	}
	return entries, nil
}

// GetTest returns the metadata, code and latest report of a test. A test
// without an index entry gets one.
func (c *Catalog) GetTest(name string) (model.TestDetail, error) {
	safe := workspace.SanitizeName(name)
	if safe == "" {
		return model.TestDetail{}, apperr.New(apperr.CodeInvalidInput, "Invalid test name.")
	}

	meta, err := c.index.Ensure(safe, c.layout.TestCreatedAt(safe, c.now()))
	if err != nil {
		return model.TestDetail{}, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to read index")
	}

	detail := model.TestDetail{Meta: meta}

	code, err := c.layout.ReadTestCode(safe)
	if err != nil {
		c.logger.Warn().Err(err).Str("test", safe).Msg("Failed to read test code")
	}
	detail.Code = code

	if meta.LastReportFile != nil && *meta.LastReportFile != "" {
		rel := *meta.LastReportFile
		path, err := c.layout.OutputPath(rel)
		if err == nil {
			var data []byte
			data, err = os.ReadFile(path)
			if err == nil {
				detail.ReportText = strings.ToValidUTF8(string(data), "")
				url := "/outputs/" + rel
				detail.ReportURL = &url
			}
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn().Err(err).Str("report", rel).Msg("Failed to read last report")
		}
	}
	return detail, nil
}

// SaveResult describes a saved test code file.
type SaveResult struct {
	OK   bool   `json:"ok"`
	Name string `json:"name"`
	// Code file relative to the project root
	Path string `json:"path"`
	// Previous version relative to the project root, nil when there was none
	Backup *string `json:"backup"`
}

// SaveTestCode replaces the code of a test, keeping the previous version as
// a backup, and makes sure the test is indexed.
func (c *Catalog) SaveTestCode(name, code string) (SaveResult, error) {
	safe := workspace.SanitizeName(name)
	if safe == "" {
		return SaveResult{}, apperr.New(apperr.CodeInvalidInput, "Invalid test name.")
	}

	now := c.now()
	path, backup, err := c.layout.SaveTestCode(safe, code, now)
	if err != nil {
		return SaveResult{}, apperr.Wrap(apperr.CodeStorageFailure, err, "Failed to save code")
	}
	if _, err := c.index.Ensure(safe, c.layout.TestCreatedAt(safe, now)); err != nil {
		c.logger.Warn().Err(err).Str("test", safe).Msg("Failed to register saved test in index")
	}

	res := SaveResult{OK: true, Name: safe, Path: c.rootRel(path)}
	if backup != "" {
		b := c.rootRel(backup)
		res.Backup = &b
		c.logger.Info().Str("test", safe).Str("backup", b).Msg("Saved test code, kept previous version")
	} else {
		c.logger.Info().Str("test", safe).Msg("Saved test code")
	}
	return res, nil
}

// GetReport returns the pipeline's most recent canonical report.
func (c *Catalog) GetReport() ([]byte, error) {
	data, err := os.ReadFile(c.layout.CanonicalReport())
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.New(apperr.CodeNotFound, "No report yet.")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to read report")
	}
	return data, nil
}

// ListArtifacts returns the names of the regular files directly under the
// output directory.
func (c *Catalog) ListArtifacts() ([]string, error) {
	entries, err := os.ReadDir(c.layout.OutputDir())
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to list artifacts")
	}

	names := []string{}
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *Catalog) rootRel(path string) string {
	rel, err := filepath.Rel(c.layout.Root(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
