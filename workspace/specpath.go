package workspace

// This file contains spec path resolution for the browser test runner.

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

var specSuffixes = []string{".spec.ts", ".test.ts", ".ts"}

// ResolveSpec turns a loosely specified test ("login", "tests\\login.spec.ts",
// "tests/login") into a path relative to the project root. It tries, in
// order: the path as given, the path under tests/, known suffix variants and
// finally the first file under tests/ whose name starts with the base name.
// When nothing matches the normalized input is returned so the runner can
// report the problem itself.
func (l *Layout) ResolveSpec(spec string) string {
	s := strings.TrimSpace(strings.ReplaceAll(spec, "\\", "/"))

	if rel, ok := l.existingRel(s); ok {
		return rel
	}

	if !strings.HasPrefix(s, TestsDir+"/") {
		if rel, ok := l.existingRel(path.Join(TestsDir, s)); ok {
			return rel
		}
	}

	base := strings.TrimPrefix(s, TestsDir+"/")
	for _, suffix := range specSuffixes {
		base = strings.TrimSuffix(base, suffix)
	}
	for _, suffix := range specSuffixes {
		if rel, ok := l.existingRel(path.Join(TestsDir, base+suffix)); ok {
			return rel
		}
	}

	needle := path.Base(base)
	if needle == "" || needle == "." || needle == "/" {
		return s
	}
	var found string
	_ = filepath.WalkDir(l.TestsDir(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), needle) {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if found != "" {
		if rel, err := filepath.Rel(l.root, found); err == nil {
			return filepath.ToSlash(rel)
		}
	}

	return s
}

// TestNameFromSpec derives the index name of a resolved spec path:
// "tests/checkout/pay.spec.ts" becomes "checkout/pay" sanitized.
func TestNameFromSpec(spec string) string {
	s := strings.ReplaceAll(spec, "\\", "/")
	if i := strings.LastIndex(s, TestsDir+"/"); i >= 0 && strings.HasSuffix(s, TestCodeSuffix) {
		return SanitizeName(strings.TrimSuffix(s[i+len(TestsDir)+1:], TestCodeSuffix))
	}
	return SanitizeName(strings.TrimSuffix(path.Base(s), TestCodeSuffix))
}

// existingRel reports whether rel names an existing file under the root and
// returns its cleaned relative form.
func (l *Layout) existingRel(rel string) (string, bool) {
	if rel == "" {
		return "", false
	}
	p, err := securejoin.SecureJoin(l.root, filepath.FromSlash(rel))
	if err != nil {
		return "", false
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", false
	}
	r, err := filepath.Rel(l.root, p)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(r), true
}
