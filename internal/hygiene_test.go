package internal

import (
	"bytes"
	"go/format"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
)

const modulePrefix = "github.com/Iron-Ham/runboard/internal/"

// layers lists the internal packages each package may import. Lower layers
// never reach up: the store knows nothing of tasks, and the task board
// knows nothing of sessions.
var layers = map[string][]string{
	"errors":       {},
	"logging":      {},
	"config":       {"logging"},
	"store":        {"errors", "logging"},
	"lease":        {"errors", "logging", "store"},
	"filelock":     {"errors", "logging", "store"},
	"mailbox":      {"errors", "logging", "store"},
	"taskboard":    {"errors", "lease", "logging", "store"},
	"session":      {"errors", "filelock", "lease", "logging", "mailbox", "store", "taskboard"},
	"coordination": {"config", "errors", "filelock", "lease", "logging", "mailbox", "session", "store", "taskboard"},
}

// projectRoot returns the module root whether tests run from internal/ or
// from the root itself.
func projectRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if filepath.Base(wd) == "internal" {
		return filepath.Dir(wd)
	}
	return wd
}

// walkGoFiles calls fn for every .go file under the module's internal/ and
// cmd/ trees, skipping hidden and underscore directories.
func walkGoFiles(t *testing.T, fn func(path string)) {
	t.Helper()
	root := projectRoot(t)
	for _, dir := range []string{"internal", "cmd"} {
		err := filepath.Walk(filepath.Join(root, dir), func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if name := info.Name(); strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(path, ".go") {
				fn(path)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Failed to walk directory %s: %v", dir, err)
		}
	}
}

// TestGofmtCompliance verifies that all Go source files in the project
// are properly formatted according to gofmt standards.
// If this test fails, run: gofmt -w ./internal/ ./cmd/
func TestGofmtCompliance(t *testing.T) {
	root := projectRoot(t)
	var unformatted []string

	walkGoFiles(t, func(path string) {
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		formatted, err := format.Source(content)
		if err != nil {
			t.Errorf("%s does not parse: %v", path, err)
			return
		}
		if !bytes.Equal(content, formatted) {
			rel, _ := filepath.Rel(root, path)
			unformatted = append(unformatted, rel)
		}
	})

	for _, f := range unformatted {
		t.Errorf("not gofmt-formatted: %s", f)
	}
}

// TestPackageLayering verifies that no package imports an internal package
// above it. Tests may import more freely, so only non-test files count.
func TestPackageLayering(t *testing.T) {
	root := projectRoot(t)
	fset := token.NewFileSet()

	walkGoFiles(t, func(path string) {
		if strings.HasSuffix(path, "_test.go") {
			return
		}
		rel, _ := filepath.Rel(filepath.Join(root, "internal"), path)
		pkg := strings.Split(filepath.ToSlash(rel), "/")[0]
		allowed, layered := layers[pkg]
		if !layered {
			return
		}

		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			t.Errorf("%s: %v", path, err)
			return
		}
		for _, imp := range file.Imports {
			importPath, _ := strconv.Unquote(imp.Path.Value)
			dep, ok := strings.CutPrefix(importPath, modulePrefix)
			if !ok {
				continue
			}
			if !slices.Contains(allowed, dep) {
				t.Errorf("%s: package %s must not import internal/%s", rel, pkg, dep)
			}
		}
	})
}
