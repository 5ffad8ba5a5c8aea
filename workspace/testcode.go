package workspace

// This file contains access to generated test code files.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TestFile is a generated test code file found on disk.
type TestFile struct {
	Name    string
	Path    string
	ModTime time.Time
}

// TestCreatedAt returns when the code file of a test was last written, or
// fallback when the test has no code yet.
func (l *Layout) TestCreatedAt(name string, fallback time.Time) time.Time {
	info, err := os.Stat(l.TestCodePath(name))
	if err != nil || !info.Mode().IsRegular() {
		return fallback
	}
	return info.ModTime()
}

// ReadTestCode returns the code of a test, or "" if it has none yet.
func (l *Layout) ReadTestCode(name string) (string, error) {
	data, err := os.ReadFile(l.TestCodePath(name))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveTestCode writes code for a test. An existing file is first renamed to
// <file>.bak.<unix seconds>; the returned backup path is empty when there was
// nothing to preserve.
func (l *Layout) SaveTestCode(name, code string, now time.Time) (path, backup string, err error) {
	path = l.TestCodePath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", "", fmt.Errorf("failed to create tests directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		backup = fmt.Sprintf("%s.bak.%d", path, now.Unix())
		// Avoid clobbering a backup taken in the same second
		for i := 1; fileExists(backup); i++ {
			backup = fmt.Sprintf("%s.bak.%d.%d", path, now.Unix(), i)
		}
		if err := os.Rename(path, backup); err != nil {
			return "", "", fmt.Errorf("failed to back up %s: %w", path, err)
		}
	}

	code = strings.TrimRight(code, " \t\r\n") + "\n"
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		return "", backup, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, backup, nil
}

// ListTestFiles returns the generated test files directly under tests/,
// sorted by name.
func (l *Layout) ListTestFiles() ([]TestFile, error) {
	entries, err := os.ReadDir(l.TestsDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []TestFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), TestCodeSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, TestFile{
			Name:    strings.TrimSuffix(e.Name(), TestCodeSuffix),
			Path:    filepath.Join(l.TestsDir(), e.Name()),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
