package report

// This file contains writing of report artifacts. Artifacts are written once
// under output/reports and never modified afterwards.

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qaflow/qaflow/model"
	"github.com/qaflow/qaflow/workspace"
)

const timestampLayout = "20060102-150405"

// ArtifactName builds the base name of a run artifact:
// <safe-name>-<YYYYMMDD-HHMMSS>-<short-run-id><ext>.
func ArtifactName(testName string, at time.Time, runID, ext string) string {
	safe := workspace.SanitizeName(testName)
	if safe == "" {
		safe = "unknown"
	}

	// The tail of a ULID is its random part
	shortID := runID
	if len(shortID) > 8 {
		shortID = shortID[len(shortID)-8:]
	}

	name := fmt.Sprintf("%s-%s", safe, at.UTC().Format(timestampLayout))
	if shortID != "" {
		name += "-" + strings.ToLower(shortID)
	}
	return name + ext
}

// Archive copies the canonical report src into dir as a .md artifact and
// returns the artifact path. src stays in place.
func Archive(src, dir, testName string, at time.Time, runID string) (string, error) {
	dst := filepath.Join(dir, ArtifactName(testName, at, runID, ".md"))
	if err := workspace.CopyFile(src, dst); err != nil {
		return "", fmt.Errorf("failed to archive report: %w", err)
	}
	return dst, nil
}

// Transcript is what is known about a run that left no report behind.
type Transcript struct {
	Command  string
	ExitCode int
	// Most recent output lines, oldest first
	Lines []string
	// Number of earlier lines that were not kept
	Dropped int
}

// WriteTranscript writes tr into dir as a .log artifact and returns its path.
func WriteTranscript(dir, testName string, at time.Time, runID string, tr Transcript) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Command: %s\n", tr.Command)
	fmt.Fprintf(&b, "Exit code: %d\n", tr.ExitCode)
	b.WriteString("No report was produced by this run.\n\n")
	b.WriteString("===== OUTPUT =====\n")
	if tr.Dropped > 0 {
		fmt.Fprintf(&b, "... %d earlier lines omitted ...\n", tr.Dropped)
	}
	for _, line := range tr.Lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	path := filepath.Join(dir, ArtifactName(testName, at, runID, ".log"))
	if err := writeFile(path, b.String()); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	return path, nil
}

// RunReport is the outcome of a synchronous browser test run.
type RunReport struct {
	Command  string
	ExitCode int
	Status   model.Status
	Stdout   string
	Stderr   string
}

// WriteRunReport writes r into dir as
// <safe-name>-playwright-<YYYYMMDD-HHMMSS>.txt and returns its path.
func WriteRunReport(dir, testName string, at time.Time, r RunReport) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Command: %s\n", r.Command)
	fmt.Fprintf(&b, "Return code: %d\n", r.ExitCode)
	fmt.Fprintf(&b, "Status: %s\n\n", r.Status)
	b.WriteString("===== STDOUT =====\n")
	b.WriteString(r.Stdout)
	b.WriteString("\n\n===== STDERR =====\n")
	b.WriteString(r.Stderr)

	safe := workspace.SanitizeName(testName)
	if safe == "" {
		safe = "unknown"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-playwright-%s.txt", safe, at.UTC().Format(timestampLayout)))
	if err := writeFile(path, b.String()); err != nil {
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	return path, nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}
