package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/qaflow/qaflow/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestStatusFromText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want model.Status
	}{
		{"explicit pass", "Summary\nScript pass/fail result: PASS\n", model.StatusPassed},
		{"explicit fail", "script pass/fail result: fail", model.StatusFailed},
		{"quoted key", "{'script pass/fail result': pass, 'notes': 'one fail retried'}", model.StatusPassed},
		{"marker beats words", "steps did fail twice\nscript pass/fail result: pass", model.StatusPassed},
		{"only pass word", "all steps pass", model.StatusPassed},
		{"only fail word", "login did fail", model.StatusFailed},
		{"both words", "some pass some fail", ""},
		{"neither word", "nothing conclusive", ""},
		{"word without leading space", "pass", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, StatusFromText(tt.text))
		})
	}
}

func TestStatusFromFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    model.Status
		wantErr bool
	}{
		{"passed", `{"status": "passed"}`, model.StatusPassed, false},
		{"failed mixed case", `{"status": " Failed "}`, model.StatusFailed, false},
		{"unknown status", `{"status": "interrupted"}`, "", true},
		{"malformed", `{status`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			got, err := StatusFromFile(path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestBaseline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "final_report.md")
	missing := filepath.Join(dir, "missing.md")

	empty := TakeBaseline(path, missing)
	require.False(t, empty.Written(path))
	require.False(t, empty.Existed(path))

	// A file created after the baseline was taken
	require.NoError(t, os.WriteFile(path, []byte("first"), 0644))
	require.True(t, empty.Written(path))

	// The same file untouched since the baseline, even within the same second
	before := TakeBaseline(path, missing)
	require.True(t, before.Existed(path))
	require.False(t, before.Written(path))

	// Rewritten with a different size
	require.NoError(t, os.WriteFile(path, []byte("second run"), 0644))
	require.True(t, before.Written(path))

	// Rewritten with the same size but a new modification time
	before = TakeBaseline(path)
	require.NoError(t, os.WriteFile(path, []byte("third run!"), 0644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	require.True(t, before.Written(path))

	require.False(t, before.Written(missing))
	require.False(t, TakeBaseline().Written(dir))

	// Without a baseline any existing file counts
	var none Baseline
	require.True(t, none.Written(path))
	require.False(t, none.Written(missing))
}

func TestDetector(t *testing.T) {
	dir := t.TempDir()
	statusFile := filepath.Join(dir, "last-run.json")
	hiddenStatusFile := filepath.Join(dir, ".last-run.json")
	reportPath := filepath.Join(dir, "final_report.md")
	require.NoError(t, os.WriteFile(reportPath, []byte("script pass/fail result: fail"), 0644))

	d := NewDetector(zerolog.Nop(), []string{statusFile, hiddenStatusFile})
	before := TakeBaseline(statusFile, hiddenStatusFile)

	// Falls back to the report heuristic without status files
	require.Equal(t, model.StatusFailed, d.Detect(before, reportPath))
	require.Equal(t, model.Status(""), d.Detect(before, ""))

	// A malformed first file is skipped in favour of the second
	require.NoError(t, os.WriteFile(statusFile, []byte("garbage"), 0644))
	require.NoError(t, os.WriteFile(hiddenStatusFile, []byte(`{"status":"passed"}`), 0644))
	require.Equal(t, model.StatusPassed, d.Detect(before, reportPath))

	// Status files left over from an earlier run are ignored, however recent
	next := TakeBaseline(statusFile, hiddenStatusFile)
	require.Equal(t, model.StatusFailed, d.Detect(next, reportPath))
}

func TestArtifactName(t *testing.T) {
	at := time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC)

	require.Equal(t, "login_flow-20250607-080910-4q5r6s7t.md",
		ArtifactName("login flow", at, "01J0ABCDEFGHJKMN4Q5R6S7T", ".md"))
	require.Equal(t, "unknown-20250607-080910.log", ArtifactName("", at, "", ".log"))
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "final_report.md")
	require.NoError(t, os.WriteFile(src, []byte("# Report\n"), 0644))
	reports := filepath.Join(dir, "reports")

	dst, err := Archive(src, reports, "login", time.Now(), "01J0ABCDEFGHJKMN4Q5R6S7T")
	require.NoError(t, err)
	require.Equal(t, reports, filepath.Dir(dst))
	require.True(t, strings.HasSuffix(dst, ".md"))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "# Report\n", string(data))

	// The canonical report stays in place
	_, err = os.Stat(src)
	require.NoError(t, err)

	_, err = Archive(filepath.Join(dir, "missing.md"), reports, "login", time.Now(), "x")
	require.Error(t, err)
}

func TestWriteTranscript(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteTranscript(dir, "login", time.Now(), "01J0ABCDEFGHJKMN4Q5R6S7T", Transcript{
		Command:  "crewai run",
		ExitCode: 2,
		Lines:    []string{"starting", "Traceback: boom"},
		Dropped:  3,
	})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, ".log"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	require.Contains(t, text, "Command: crewai run\n")
	require.Contains(t, text, "Exit code: 2\n")
	require.Contains(t, text, "... 3 earlier lines omitted ...\n")
	require.True(t, strings.HasSuffix(text, "starting\nTraceback: boom\n"))
}

func TestWriteRunReport(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC)

	path, err := WriteRunReport(dir, "login", at, RunReport{
		Command:  "npx playwright test tests/login.spec.ts",
		ExitCode: 0,
		Status:   model.StatusPassed,
		Stdout:   "1 passed",
		Stderr:   "",
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "login-playwright-20250607-080910.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "Command: npx playwright test tests/login.spec.ts\n"+
		"Return code: 0\n"+
		"Status: passed\n\n"+
		"===== STDOUT =====\n1 passed\n\n"+
		"===== STDERR =====\n", string(data))
}
