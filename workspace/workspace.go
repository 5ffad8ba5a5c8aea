// Package workspace knows the on-disk layout of a qaflow project: where
// generated test code, scenario sets, reports and the index live. Every
// client-supplied name goes through SanitizeName before it touches the
// filesystem.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

const (
	TestsDir     = "tests"
	OutputDir    = "output"
	ReportsDir   = "reports"
	ScenariosDir = "Testcases"
	DataDir      = "data"

	// CanonicalReport is the pipeline's unnamed report, relative to the output dir.
	CanonicalReport = "final_report.md"

	// TestCodeSuffix is the suffix of generated browser test files.
	TestCodeSuffix = ".spec.ts"
	// ScenarioSuffix is the suffix of persisted scenario sets.
	ScenarioSuffix = "_test_cases.json"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeName replaces every run of characters outside [a-zA-Z0-9._-] with
// an underscore.
func SanitizeName(name string) string {
	return strings.TrimSpace(unsafeChars.ReplaceAllString(name, "_"))
}

// Layout resolves paths under a project root.
type Layout struct {
	root string
}

// New returns the layout for root and creates the output, reports, scenario
// and data directories.
func New(root string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	l := &Layout{root: abs}
	for _, dir := range []string{l.OutputDir(), l.ReportsDir(), l.ScenariosDir(), l.DataDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return l, nil
}

func (l *Layout) Root() string         { return l.root }
func (l *Layout) TestsDir() string     { return filepath.Join(l.root, TestsDir) }
func (l *Layout) OutputDir() string    { return filepath.Join(l.root, OutputDir) }
func (l *Layout) ReportsDir() string   { return filepath.Join(l.root, OutputDir, ReportsDir) }
func (l *Layout) ScenariosDir() string { return filepath.Join(l.root, OutputDir, ScenariosDir) }
func (l *Layout) DataDir() string      { return filepath.Join(l.root, DataDir) }

// CanonicalReport is where the pipeline writes its report.
func (l *Layout) CanonicalReport() string {
	return filepath.Join(l.OutputDir(), CanonicalReport)
}

// StatusFiles are the structured status files the browser test runner may
// leave behind, in order of preference.
func (l *Layout) StatusFiles() []string {
	return []string{
		filepath.Join(l.root, "test-results", "last-run.json"),
		filepath.Join(l.root, "test-results", ".last-run.json"),
	}
}

// TestCodePath is the generated code file for a test name.
func (l *Layout) TestCodePath(name string) string {
	return filepath.Join(l.TestsDir(), SanitizeName(name)+TestCodeSuffix)
}

// ScenarioPath is the canonical scenario set file for a test name.
func (l *Layout) ScenarioPath(name string) string {
	return filepath.Join(l.ScenariosDir(), SanitizeName(name)+ScenarioSuffix)
}

// OutputPath joins a client-supplied relative path onto the output
// directory. The result never escapes it.
func (l *Layout) OutputPath(rel string) (string, error) {
	return securejoin.SecureJoin(l.OutputDir(), filepath.FromSlash(rel))
}

// OutputRel returns path relative to the output directory with forward slashes.
func (l *Layout) OutputRel(path string) string {
	rel, err := filepath.Rel(l.OutputDir(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// CopyFile copies src to dst, including file permissions.
func CopyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	sourceInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, sourceInfo.Mode())
}
