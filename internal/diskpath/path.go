// Package diskpath canonicalizes remote store paths and derives the fixed
// directory layout for regions, cars and slots.
//
// Every path handed to the remote store goes through Normalize and
// AssertValid first. Canonical paths always have exactly one leading slash,
// no repeated slashes, no trailing slash (except the root) and no storage
// scheme prefix.
package diskpath

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Stage names the caller of AssertValid so a rejected path can be traced
// back to the pipeline step that produced it.
type Stage string

const (
	StageRead      Stage = "read"
	StagePreflight Stage = "preflight"
	StageData      Stage = "commit-data"
	StageIndex     Stage = "commit-index"
	StageVerify    Stage = "verify"
	StageReconcile Stage = "reconcile"
	StageArchive   Stage = "archive"
	StageStore     Stage = "store"
)

// PathError reports a path that cannot be used against the remote store.
type PathError struct {
	Stage  Stage
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: invalid path %q: %s", e.Stage, e.Path, e.Reason)
}

var (
	schemePrefix  = regexp.MustCompile(`^/?disk:`)
	spaceAtSlash  = regexp.MustCompile(`\s*/\s*`)
	repeatedSlash = regexp.MustCompile(`/{2,}`)
)

// Normalize converts a raw path into canonical form. It fails only when the
// input cannot be a path at all (invalid UTF-8 or NUL bytes).
//
// Example: " /disk:/Фото / R1 / Toyota Test " becomes "/Фото/R1/Toyota Test".
func Normalize(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", &PathError{Path: raw, Reason: "not valid UTF-8"}
	}
	if strings.ContainsRune(raw, 0) {
		return "", &PathError{Path: raw, Reason: "contains NUL byte"}
	}

	p := strings.TrimSpace(raw)
	p = strings.ReplaceAll(p, `\`, "/")
	p = schemePrefix.ReplaceAllString(p, "")
	p = spaceAtSlash.ReplaceAllString(p, "/")
	p = repeatedSlash.ReplaceAllString(p, "/")
	p = strings.TrimSpace(p)
	p = "/" + strings.TrimLeft(p, "/")
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p, nil
}

// AssertValid normalizes path and rejects segments the remote store must
// never see: anything containing ':' and '..' traversal segments.
func AssertValid(path string, stage Stage) (string, error) {
	p, err := Normalize(path)
	if err != nil {
		var pe *PathError
		if errors.As(err, &pe) {
			pe.Stage = stage
		}
		return "", err
	}
	for _, seg := range Segments(p) {
		if seg == ".." {
			return "", &PathError{Stage: stage, Path: path, Reason: "path traversal segment '..'"}
		}
		if strings.Contains(seg, ":") {
			return "", &PathError{Stage: stage, Path: path, Reason: fmt.Sprintf("segment %q contains ':'", seg)}
		}
	}
	return p, nil
}

// Segments splits a canonical path into its non-empty components.
func Segments(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Join appends name segments to a canonical parent path. Segments are used
// verbatim; callers sanitize user-supplied names first.
func Join(parent string, names ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(parent, "/"))
	for _, n := range names {
		b.WriteByte('/')
		b.WriteString(n)
	}
	out := b.String()
	if out == "" {
		return "/"
	}
	return out
}

// Base returns the last segment of a canonical path.
func Base(p string) string {
	segs := Segments(p)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Dir returns the parent of a canonical path. The parent of a top-level
// path is the root.
func Dir(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

// Ancestors lists every proper ancestor of p from the top down, excluding
// the root. Ancestors("/a/b/c") is ["/a", "/a/b"].
func Ancestors(p string) []string {
	segs := Segments(p)
	if len(segs) < 2 {
		return nil
	}
	out := make([]string, 0, len(segs)-1)
	cur := ""
	for _, s := range segs[:len(segs)-1] {
		cur += "/" + s
		out = append(out, cur)
	}
	return out
}
