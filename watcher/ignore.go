package watcher

import (
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreMatcher decides which paths the watcher and synchronizer skip.
// It combines the configured ignore list with the watched root's .gitignore
// when one exists.
type IgnoreMatcher struct {
	extra     *ignore.GitIgnore
	gitignore *ignore.GitIgnore
}

func NewIgnoreMatcher(root string, extraIgnore []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}

	if len(extraIgnore) > 0 {
		m.extra = ignore.CompileIgnoreLines(extraIgnore...)
	}

	if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		m.gitignore = gi
	}

	return m
}

// ShouldIgnore reports whether a path (relative to the watched root) is
// excluded. Hidden files and directories are always excluded.
func (m *IgnoreMatcher) ShouldIgnore(relPath string) bool {
	normalized := filepath.ToSlash(relPath)

	for _, part := range strings.Split(normalized, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}

	if m.extra != nil && m.extra.MatchesPath(normalized) {
		return true
	}
	if m.gitignore != nil && m.gitignore.MatchesPath(normalized) {
		return true
	}

	return false
}
