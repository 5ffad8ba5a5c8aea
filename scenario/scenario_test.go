package scenario

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qaflow/qaflow/apperr"
	"github.com/qaflow/qaflow/launcher"
	"github.com/qaflow/qaflow/model"
	"github.com/qaflow/qaflow/workspace"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const cleanSet = `[
  {"id": 1, "title": "Valid login", "steps": ["open", "submit"], "expected_results": "dashboard"},
  {"id": "TC-2", "title": "Wrong password", "priority": "high"}
]`

func newResolver(t *testing.T, script string) (*Resolver, *workspace.Layout) {
	t.Helper()
	layout, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	tool := launcher.Tool{Name: "pipeline", Command: []string{"sh", "-c", script}}
	l := launcher.New(zerolog.Nop(), layout.Root())
	return NewResolver(zerolog.Nop(), layout, l, tool), layout
}

func writeSet(t *testing.T, layout *workspace.Layout, file, content string) string {
	t.Helper()
	path := filepath.Join(layout.ScenariosDir(), file)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseTolerant(t *testing.T) {
	want, err := Parse([]byte(cleanSet))
	require.NoError(t, err)
	require.Len(t, want, 2)
	require.Equal(t, model.ScenarioID("1"), want[0].ID)
	require.Equal(t, model.ScenarioID("TC-2"), want[1].ID)
	require.JSONEq(t, `["open", "submit"]`, string(want[0].Steps))

	tests := []struct {
		name string
		text string
	}{
		{"json tag line", "json\n" + cleanSet},
		{"code fence", "```json\n" + cleanSet + "\n```"},
		{"bare fence", "```\n" + cleanSet + "\n```"},
		{"surrounding noise", "Here are the scenarios:\n" + cleanSet + "\nLet me know!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.text))
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, text := range []string{"no array here", "[not json]", `{"id": 1}`} {
		_, err := Parse([]byte(text))
		require.ErrorIs(t, err, apperr.ErrInvalidScenarioData, text)
	}

	got, err := Parse([]byte("json"))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestResolve(t *testing.T) {
	r, layout := newResolver(t, "exit 1")

	_, ok := r.Resolve("login")
	require.False(t, ok)

	tests := []struct {
		name string
		file string
		ask  string
	}{
		{"exact", "checkout_test_cases.json", "checkout"},
		{"without _test suffix", "signup_test_cases.json", "signup_test"},
		{"glob", "web_search_flow_test_cases.json", "search"},
		{"sanitized", "log_out_test_cases.json", "log out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSet(t, layout, tt.file, cleanSet)
			got, ok := r.Resolve(tt.ask)
			require.True(t, ok)
			require.Equal(t, path, got)
		})
	}
}

func TestGetOrCreateExisting(t *testing.T) {
	// The pipeline must not run when a set exists
	r, layout := newResolver(t, "echo ran >> pipeline_calls.txt; exit 1")
	path := writeSet(t, layout, "login_test_cases.json", cleanSet)

	first, err := r.GetOrCreate(context.Background(), "login", "http://app", "log in")
	require.NoError(t, err)
	second, err := r.GetOrCreate(context.Background(), "login", "", "")
	require.NoError(t, err)
	require.Equal(t, first, second)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, cleanSet, string(data))

	_, err = os.Stat(filepath.Join(layout.Root(), "pipeline_calls.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestGetOrCreateMissingInputs(t *testing.T) {
	r, _ := newResolver(t, "exit 1")

	_, err := r.GetOrCreate(context.Background(), "login", "http://app", "")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = r.GetOrCreate(context.Background(), "login", " ", "log in")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetOrCreateGenerates(t *testing.T) {
	script := `test "$FAST_PLAN_ONLY" = 1 || exit 9
printf '%s' '` + strings.ReplaceAll(cleanSet, "\n", " ") + `' > "output/Testcases/${TEST_NAME}_test_cases.json"`
	r, layout := newResolver(t, script)

	got, err := r.GetOrCreate(context.Background(), "login", "http://app", "log in")
	require.NoError(t, err)
	require.Len(t, got, 2)

	_, err = os.Stat(layout.ScenarioPath("login"))
	require.NoError(t, err)
}

func TestEnsureCopiesToCanonicalPath(t *testing.T) {
	r, layout := newResolver(t, `printf '[]' > "output/Testcases/generated_${TEST_NAME}_test_cases.json"`)

	require.NoError(t, r.Ensure(context.Background(), "cart", "http://app", "add to cart"))

	data, err := os.ReadFile(layout.ScenarioPath("cart"))
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}

func TestEnsureGenerationFailed(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"stderr tail", "echo progress; echo boom >&2; exit 4", "Scenario generation failed (exit 4). stderr: boom"},
		{"stdout tail", "echo only stdout; exit 2", "Scenario generation failed (exit 2). output: only stdout"},
		{"silent", "exit 0", "Scenario generation failed (exit 0)."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newResolver(t, tt.script)
			err := r.Ensure(context.Background(), "login", "http://app", "log in")
			require.ErrorIs(t, err, apperr.ErrGenerationFailed)
			require.Equal(t, tt.want, err.Error())
		})
	}
}

func TestEnsureTailIsBounded(t *testing.T) {
	r, _ := newResolver(t, `i=0; while [ $i -lt 500 ]; do printf 'zzzzzzzzzz' >&2; i=$((i+1)); done; exit 1`)

	err := r.Ensure(context.Background(), "login", "http://app", "log in")
	require.ErrorIs(t, err, apperr.ErrGenerationFailed)
	require.Equal(t, failureTailBytes, strings.Count(err.Error(), "z"))
}

func TestEnsureToolUnavailable(t *testing.T) {
	layout, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	tool := launcher.Tool{Name: "pipeline", Command: []string{"qaflow-no-such-binary"}}
	r := NewResolver(zerolog.Nop(), layout, launcher.New(zerolog.Nop(), layout.Root()), tool)

	err = r.Ensure(context.Background(), "login", "http://app", "log in")
	require.ErrorIs(t, err, apperr.ErrToolUnavailable)
}

func TestEnsureSharesGeneration(t *testing.T) {
	r, layout := newResolver(t, `echo ran >> pipeline_calls.txt; sleep 1; printf '[]' > "output/Testcases/${TEST_NAME}_test_cases.json"`)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Ensure(context.Background(), "shared", "http://app", "desc"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(layout.Root(), "pipeline_calls.txt"))
	require.NoError(t, err)
	require.Equal(t, "ran\n", string(data))
}

func TestEnsureOutlivesCancelledCaller(t *testing.T) {
	r, layout := newResolver(t, `echo ran >> pipeline_calls.txt; sleep 0.5; printf '[]' > "output/Testcases/${TEST_NAME}_test_cases.json"`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan error, 1)
	go func() {
		first <- r.Ensure(ctx, "shared", "http://app", "desc")
	}()

	calls := filepath.Join(layout.Root(), "pipeline_calls.txt")
	require.Eventually(t, func() bool {
		_, err := os.Stat(calls)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	second := make(chan error, 1)
	go func() {
		second <- r.Ensure(context.Background(), "shared", "http://app", "desc")
	}()
	cancel()

	require.ErrorIs(t, <-first, context.Canceled)
	require.NoError(t, <-second)

	_, ok := r.Resolve("shared")
	require.True(t, ok)
	data, err := os.ReadFile(calls)
	require.NoError(t, err)
	require.Equal(t, "ran\n", string(data))
}

func TestParseLooseFieldTypes(t *testing.T) {
	got, err := Parse([]byte(`[{"id": 3, "title": "Checkout", "priority": 1, "steps": "pay"}]`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, model.ScenarioID("3"), got[0].ID)
	require.JSONEq(t, `1`, string(got[0].Priority))

	// Values are written back as they were read
	data, err := json.Marshal(got[0])
	require.NoError(t, err)
	require.JSONEq(t, `{"id": "3", "title": "Checkout", "priority": 1, "steps": "pay"}`, string(data))
}

func TestSave(t *testing.T) {
	r, layout := newResolver(t, "exit 1")
	scenarios, err := Parse([]byte(cleanSet))
	require.NoError(t, err)

	path, err := r.Save("login flow", scenarios)
	require.NoError(t, err)
	require.Equal(t, layout.ScenarioPath("login_flow"), path)

	loaded, err := Load(path)
	require.NoError(t, err)
	wantJSON, err := json.Marshal(scenarios)
	require.NoError(t, err)
	gotJSON, err := json.Marshal(loaded)
	require.NoError(t, err)
	require.JSONEq(t, string(wantJSON), string(gotJSON))

	// Saving again overwrites
	_, err = r.Save("login flow", scenarios[:1])
	require.NoError(t, err)
	loaded, err = Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}
