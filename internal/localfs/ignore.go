package localfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IgnoreFile is the per-directory ignore file read during discovery.
const IgnoreFile = ".carphotoignore"

// rule is one compiled ignore line.
type rule struct {
	glob    string // lower-cased, slash-separated
	path    bool   // glob has a '/', so it is matched against the relative path
	include bool   // "!glob" takes a file back in
}

// IgnoreMatcher decides which local files stay out of an upload. Rules
// apply in order and the last matching rule wins, so "*.png" followed by
// "!cover.png" skips every PNG but the cover. Matching ignores case because
// cameras write both .JPG and .jpg.
type IgnoreMatcher struct {
	rules []rule
}

// NewIgnoreMatcher compiles pattern lines. Blank lines, '#' comments and
// malformed globs are dropped. The ignore file itself is always skipped.
func NewIgnoreMatcher(lines []string) *IgnoreMatcher {
	return &IgnoreMatcher{rules: compile(append([]string{IgnoreFile}, lines...))}
}

func compile(lines []string) []rule {
	var rules []rule
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		var r rule
		if rest, ok := strings.CutPrefix(line, "!"); ok {
			r.include = true
			line = rest
		}
		r.glob = strings.ToLower(strings.TrimPrefix(filepath.ToSlash(line), "./"))
		if r.glob == "" {
			continue
		}
		if _, err := path.Match(r.glob, ""); err != nil {
			continue
		}
		r.path = strings.Contains(r.glob, "/")
		rules = append(rules, r)
	}
	return rules
}

// With returns a matcher that applies extra after the rules of m.
func (m *IgnoreMatcher) With(extra []string) *IgnoreMatcher {
	if m == nil {
		return NewIgnoreMatcher(extra)
	}
	rules := append([]rule(nil), m.rules...)
	return &IgnoreMatcher{rules: append(rules, compile(extra)...)}
}

// Match reports whether relativePath, relative to the directory being
// scanned, is ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if m == nil {
		return false
	}
	rel := strings.ToLower(filepath.ToSlash(relativePath))
	name := path.Base(rel)

	ignored := false
	for _, r := range m.rules {
		target := name
		if r.path {
			target = rel
		}
		if ok, _ := path.Match(r.glob, target); ok {
			ignored = !r.include
		}
	}
	return ignored
}

// ParseIgnoreFile returns the lines of an ignore file, or nil when there is
// none.
func ParseIgnoreFile(file string) ([]string, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	var lines []string
	for line := range strings.Lines(string(data)) {
		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}
	return lines, nil
}
