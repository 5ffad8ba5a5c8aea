// Package report determines the outcome of a finished pipeline or test
// runner process and archives what it produced under output/reports.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/qaflow/qaflow/model"
	"github.com/rs/zerolog"
)

// Baseline records the state of files before a run starts so that files the
// run writes can be told apart from ones an earlier run left behind.
type Baseline map[string]fileState

type fileState struct {
	modTime time.Time
	size    int64
}

// TakeBaseline records the regular files among paths as they are now.
func TakeBaseline(paths ...string) Baseline {
	b := make(Baseline, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		b[path] = fileState{modTime: info.ModTime(), size: info.Size()}
	}
	return b
}

// Written reports whether path is a regular file that did not exist when the
// baseline was taken, or whose modification time or size has changed since.
// A nil baseline accepts any existing file.
func (b Baseline) Written(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	prev, ok := b[path]
	if !ok {
		return true
	}
	return !info.ModTime().Equal(prev.modTime) || info.Size() != prev.size
}

// Existed reports whether path was a regular file when the baseline was taken.
func (b Baseline) Existed(path string) bool {
	_, ok := b[path]
	return ok
}

// StatusFromFile reads a structured status file of the form
// {"status": "passed"|"failed"}.
func StatusFromFile(path string) (model.Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var doc struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to parse status file: %w", err)
	}
	status := model.ParseStatus(strings.ToLower(strings.TrimSpace(doc.Status)))
	if status == "" {
		return "", fmt.Errorf("unrecognized status %q", doc.Status)
	}
	return status, nil
}

var (
	passMarkers = []string{"script pass/fail result: pass", "'script pass/fail result': pass"}
	failMarkers = []string{"script pass/fail result: fail", "'script pass/fail result': fail"}
)

// StatusFromText guesses the outcome from free-form report text. An explicit
// result marker wins; otherwise a lone mention of pass or fail decides.
// Returns "" when the text is inconclusive.
func StatusFromText(text string) model.Status {
	t := strings.ToLower(text)
	for _, m := range passMarkers {
		if strings.Contains(t, m) {
			return model.StatusPassed
		}
	}
	for _, m := range failMarkers {
		if strings.Contains(t, m) {
			return model.StatusFailed
		}
	}

	pass := strings.Contains(t, " pass")
	fail := strings.Contains(t, " fail")
	switch {
	case pass && !fail:
		return model.StatusPassed
	case fail && !pass:
		return model.StatusFailed
	}
	return ""
}

// Detector combines the structured status files and the report heuristic.
type Detector struct {
	logger      zerolog.Logger
	statusFiles []string
}

// NewDetector returns a detector consulting statusFiles in order.
func NewDetector(logger zerolog.Logger, statusFiles []string) *Detector {
	return &Detector{
		logger:      logger.With().Str("component", "report").Logger(),
		statusFiles: statusFiles,
	}
}

// Detect returns the status of a run. Only status files written since the
// run's baseline count. reportPath may be empty when the run produced no
// report.
func (d *Detector) Detect(before Baseline, reportPath string) model.Status {
	for _, path := range d.statusFiles {
		if !before.Written(path) {
			continue
		}
		status, err := StatusFromFile(path)
		if err != nil {
			d.logger.Warn().Err(err).Str("path", path).Msg("Ignoring malformed status file")
			continue
		}
		d.logger.Debug().Str("path", path).Str("status", string(status)).Msg("Status from status file")
		return status
	}

	if reportPath == "" {
		return ""
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		d.logger.Warn().Err(err).Str("path", reportPath).Msg("Failed to read report for status")
		return ""
	}
	status := StatusFromText(string(data))
	d.logger.Info().
		Str("report", reportPath).
		Str("status", string(status)).
		Msg("No status file, derived status from report text")
	return status
}
