package model

// SpecRunResult is the outcome of a synchronous browser test run
type SpecRunResult struct {
	// Spec path relative to the project root, as passed to the runner
	Spec string `json:"spec"`
	// Whether the browser was run headed
	Headed bool `json:"headed"`
	// passed iff the runner exited with code 0
	Status Status `json:"status"`
	// Captured standard output
	Stdout string `json:"stdout"`
	// Captured standard error
	Stderr string `json:"stderr"`
	// Runner exit code
	ExitCode int `json:"exit_code"`
	// Shell-quoted command line that was executed
	Ran string `json:"ran"`
	// Text report written for this run, relative to the output directory
	ReportFile string `json:"report_file,omitempty"`
}

// TestDetail is everything known about a single named test
type TestDetail struct {
	Meta       IndexEntry `json:"meta"`
	Code       string     `json:"code"`
	ReportText string     `json:"report_text"`
	ReportURL  *string    `json:"report_url"`
}
