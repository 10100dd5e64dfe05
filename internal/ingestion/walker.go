// Package ingestion runs the merge pipeline over a project: it walks the
// Go sources, loads the packages, indexes their contributions, merges
// every merge point and stores the resulting contribution graph.
package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// FileEntry is a Go source file of the project.
type FileEntry struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the path relative to the project root.
	RelPath string

	// Dir is the package directory relative to the project root.
	Dir string

	// SHA256 is the hash of the file content.
	SHA256 string
}

// Patterns ignored in addition to .gitignore. The go command skips
// directories starting with "." or "_" and testdata.
var defaultIgnorePatterns = []string{
	".git/",
	".anvil/",
	"vendor/",
	"testdata/",
	"_*/",
	".*/",
	"node_modules/",
}

// WalkRepo returns the Go source files under root, in lexical order.
func WalkRepo(root string, patterns []gitignore.Pattern) ([]FileEntry, error) {
	matcher := newMatcher(patterns)

	var entries []FileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && shouldSkipDir(path, root, matcher) {
				return filepath.SkipDir
			}
			return nil
		}
		if !isGoFile(d.Name()) {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if matcher.Match(splitPath(relPath), false) {
			return nil
		}

		entry, err := readEntry(root, relPath)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

func readEntry(root, relPath string) (FileEntry, error) {
	path := filepath.Join(root, relPath)
	content, err := os.ReadFile(path)
	if err != nil {
		return FileEntry{}, err
	}
	hash := sha256.Sum256(content)
	return FileEntry{
		Path:    path,
		RelPath: relPath,
		Dir:     filepath.Dir(relPath),
		SHA256:  hex.EncodeToString(hash[:]),
	}, nil
}

// PackageDirs returns the distinct package directories of entries, sorted.
func PackageDirs(entries []FileEntry) []string {
	var dirs []string
	for _, e := range entries {
		dirs = append(dirs, e.Dir)
	}
	slices.Sort(dirs)
	return slices.Compact(dirs)
}

// loadGitignore loads .gitignore patterns from the project root.
func loadGitignore(root string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for line := range strings.SplitSeq(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}

func newMatcher(patterns []gitignore.Pattern) gitignore.Matcher {
	all := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(patterns))
	for _, p := range defaultIgnorePatterns {
		all = append(all, gitignore.ParsePattern(p, nil))
	}
	return gitignore.NewMatcher(append(all, patterns...))
}

func isGoFile(name string) bool {
	return strings.HasSuffix(name, ".go") && !strings.HasPrefix(name, ".") && !strings.HasPrefix(name, "_")
}

// shouldSkipDir checks if a directory should be skipped.
func shouldSkipDir(path, root string, matcher gitignore.Matcher) bool {
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return matcher.Match(splitPath(relPath), true)
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(path, string(filepath.Separator))
}
