package theme

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// DefaultTemplatePattern matches JSON templates, which merchants edit
// directly in the theme editor.
const DefaultTemplatePattern = "templates/**/*.json"

// templatesDir is the top-level directory holding page templates.
const templatesDir = "templates"

// Matcher checks theme-relative paths against doublestar patterns.
// A nil Matcher matches nothing.
type Matcher struct {
	patterns []string
}

// NewMatcher compiles patterns. Blank entries and lines starting with '#'
// are skipped; a malformed pattern is an error.
func NewMatcher(patterns ...string) (*Matcher, error) {
	m := &Matcher{}
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		p = strings.TrimPrefix(filepath.ToSlash(p), "./")
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", raw)
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// MustMatcher is NewMatcher for patterns known to be valid.
func MustMatcher(patterns ...string) *Matcher {
	m, err := NewMatcher(patterns...)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether rel matches any pattern.
func (m *Matcher) Match(rel string) bool {
	if m == nil {
		return false
	}
	normalized := strings.TrimPrefix(filepath.ToSlash(rel), "./")
	for _, p := range m.patterns {
		if ok, err := doublestar.Match(p, normalized); err == nil && ok {
			return true
		}
	}
	return false
}

// Patterns returns the compiled patterns.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// Empty reports whether the matcher has no patterns.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.patterns) == 0
}

// IsTemplate returns true if the path lives under the templates directory.
func IsTemplate(rel string) bool {
	normalized := path.Clean(filepath.ToSlash(rel))
	return strings.HasPrefix(normalized, templatesDir+"/")
}

// Partition splits paths into regular theme files and templates, keeping
// the input order within each group. Templates reference sections and
// snippets, so they must be uploaded after everything else.
func Partition(paths []string) (files, templates []string) {
	for _, p := range paths {
		if IsTemplate(p) {
			templates = append(templates, p)
		} else {
			files = append(files, p)
		}
	}
	return files, templates
}

// Discover finds all files below dir and returns them as sorted,
// slash-separated paths relative to dir. Hidden files and directories
// (names starting with ".") and paths matched by ignore are skipped.
func Discover(fsys afero.Fs, dir string, ignore *Matcher) ([]string, error) {
	var files []string

	err := afero.Walk(fsys, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if p != dir && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ignore.Match(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}
