package model

import "time"

// Status is the outcome of the most recent run of a test
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// ParseStatus normalizes a status string. Anything other than passed or
// failed yields the empty status.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusPassed, StatusFailed:
		return Status(s)
	}
	return ""
}

// IndexEntry is the durable metadata kept for a named test
type IndexEntry struct {
	// Sanitized test name (also the index key)
	Name string `json:"name"`
	// When the entry was created (or the mtime of the code file it was reconciled from)
	CreatedAt time.Time `json:"created_at"`
	// When the test last finished a run
	LastRunAt *time.Time `json:"last_run_at"`
	// Status of the last run, nil if it could not be determined
	LastStatus *Status `json:"last_status"`
	// Report of the last run, relative to the output directory
	LastReportFile *string `json:"last_report_file"`
	// Application URL the test was last started against
	LastAppURL *string `json:"last_app_url"`
}

// NewIndexEntry returns an entry with only the name and creation time set.
func NewIndexEntry(name string, createdAt time.Time) IndexEntry {
	return IndexEntry{
		Name:      name,
		CreatedAt: createdAt.UTC().Truncate(time.Second),
	}
}

// RecordRun stamps the result of a finished run. Status and report are only
// overwritten when known so the previous values survive a degraded run.
func (e *IndexEntry) RecordRun(at time.Time, status Status, reportFile string) {
	t := at.UTC().Truncate(time.Second)
	e.LastRunAt = &t
	if status != "" {
		s := status
		e.LastStatus = &s
	}
	if reportFile != "" {
		r := reportFile
		e.LastReportFile = &r
	}
}

// SetAppURL records the application URL of a run that is starting.
func (e *IndexEntry) SetAppURL(url string) {
	u := url
	e.LastAppURL = &u
}
