package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := New(t.TempDir())
	require.NoError(t, err)
	return l
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "login_flow", want: "login_flow"},
		{in: "Login Flow", want: "Login_Flow"},
		{in: "../../etc/passwd", want: ".._.._etc_passwd"},
		{in: "a//b\\c", want: "a_b_c"},
		{in: "v1.2-rc", want: "v1.2-rc"},
		{in: "ünïcode", want: "_n_code"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestNewCreatesDirectories(t *testing.T) {
	l := newLayout(t)
	for _, dir := range []string{l.OutputDir(), l.ReportsDir(), l.ScenariosDir(), l.DataDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestResolveSpec(t *testing.T) {
	l := newLayout(t)
	writeFile(t, filepath.Join(l.Root(), "tests", "login.spec.ts"), "test")
	writeFile(t, filepath.Join(l.Root(), "tests", "checkout.test.ts"), "test")
	writeFile(t, filepath.Join(l.Root(), "tests", "nested", "search_products.spec.ts"), "test")

	tests := []struct {
		name string
		spec string
		want string
	}{
		{name: "exact path", spec: "tests/login.spec.ts", want: "tests/login.spec.ts"},
		{name: "windows separators", spec: `tests\login.spec.ts`, want: "tests/login.spec.ts"},
		{name: "tests prefix added", spec: "login.spec.ts", want: "tests/login.spec.ts"},
		{name: "bare name", spec: "login", want: "tests/login.spec.ts"},
		{name: "bare name under tests", spec: "tests/login", want: "tests/login.spec.ts"},
		{name: "suffix variant", spec: "checkout", want: "tests/checkout.test.ts"},
		{name: "fuzzy filename search", spec: "search", want: "tests/nested/search_products.spec.ts"},
		{name: "unknown returned as is", spec: "missing", want: "missing"},
		{name: "escape attempt stays confined", spec: "../../login", want: "tests/login.spec.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, l.ResolveSpec(tt.spec))
		})
	}
}

func TestTestNameFromSpec(t *testing.T) {
	require.Equal(t, "login", TestNameFromSpec("tests/login.spec.ts"))
	require.Equal(t, "nested_search", TestNameFromSpec("tests/nested/search.spec.ts"))
	require.Equal(t, "checkout.test.ts", TestNameFromSpec("tests/checkout.test.ts"))
	require.Equal(t, "missing", TestNameFromSpec("missing"))
}

func TestSaveTestCodeKeepsBackup(t *testing.T) {
	l := newLayout(t)
	now := time.Unix(1700000000, 0)

	path, backup, err := l.SaveTestCode("login flow", "first version", now)
	require.NoError(t, err)
	require.Empty(t, backup)
	require.Equal(t, filepath.Join(l.TestsDir(), "login_flow.spec.ts"), path)

	_, backup, err = l.SaveTestCode("login flow", "second version\n\n", now)
	require.NoError(t, err)
	require.Equal(t, path+".bak.1700000000", backup)

	old, err := os.ReadFile(backup)
	require.NoError(t, err)
	require.Equal(t, "first version\n", string(old))

	code, err := l.ReadTestCode("login flow")
	require.NoError(t, err)
	require.Equal(t, "second version\n", code)

	// A second save in the same second must not overwrite the first backup
	_, backup2, err := l.SaveTestCode("login flow", "third version", now)
	require.NoError(t, err)
	require.NotEqual(t, backup, backup2)
}

func TestReadTestCodeMissing(t *testing.T) {
	l := newLayout(t)
	code, err := l.ReadTestCode("nope")
	require.NoError(t, err)
	require.Empty(t, code)
}

func TestListTestFiles(t *testing.T) {
	l := newLayout(t)
	writeFile(t, filepath.Join(l.TestsDir(), "b.spec.ts"), "b")
	writeFile(t, filepath.Join(l.TestsDir(), "a.spec.ts"), "a")
	writeFile(t, filepath.Join(l.TestsDir(), "a.spec.ts.bak.1"), "old")
	writeFile(t, filepath.Join(l.TestsDir(), "helper.ts"), "h")

	files, err := l.ListTestFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "a", files[0].Name)
	require.Equal(t, "b", files[1].Name)
	require.False(t, files[0].ModTime.IsZero())
}

func TestOutputPathConfined(t *testing.T) {
	l := newLayout(t)
	p, err := l.OutputPath("../../etc/passwd")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(l.OutputDir(), "etc", "passwd"), p)

	p, err = l.OutputPath("reports/x.md")
	require.NoError(t, err)
	require.Equal(t, "reports/x.md", l.OutputRel(p))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.md")
	writeFile(t, src, "report")
	dst := filepath.Join(dir, "nested", "dst.md")

	require.NoError(t, CopyFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "report", string(data))

	// The source is left in place
	_, err = os.Stat(src)
	require.NoError(t, err)
}
