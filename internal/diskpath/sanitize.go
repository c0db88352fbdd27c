package diskpath

import (
	"regexp"
	"strings"
)

// MaxSegmentLength is the longest path component, in characters, the remote
// store accepts.
const MaxSegmentLength = 255

var (
	illegalSegmentChars = strings.NewReplacer(
		"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
		`"`, "_", "<", "_", ">", "_", "|", "_",
	)
	multiDot   = regexp.MustCompile(`\.{2,}`)
	multiSpace = regexp.MustCompile(`\s+`)
)

const edgeTrim = ". \t\r\n"

// SanitizeSegment makes s safe to use as a single path component: illegal
// characters become '_', runs of dots collapse to one, leading and trailing
// dots and whitespace are dropped, and the result is cut to
// MaxSegmentLength characters. A segment of only dots sanitizes to "".
func SanitizeSegment(s string) string {
	s = illegalSegmentChars.Replace(s)
	s = stripControl(s)
	s = multiDot.ReplaceAllString(s, ".")
	s = strings.Trim(s, edgeTrim)
	s = truncateRunes(s, MaxSegmentLength)
	return strings.Trim(s, edgeTrim)
}

// SanitizeFilename is SanitizeSegment for file names: the extension is
// sanitized separately and kept intact when the base name is truncated.
func SanitizeFilename(name string) string {
	base, ext := splitExt(strings.TrimSpace(name))
	ext = SanitizeSegment(strings.TrimPrefix(ext, "."))
	base = SanitizeSegment(base)
	if ext == "" {
		return base
	}
	if base == "" {
		return ""
	}
	budget := MaxSegmentLength - len([]rune(ext)) - 1
	base = strings.Trim(truncateRunes(base, budget), edgeTrim)
	return base + "." + ext
}

// collapseSpaces folds internal whitespace runs into single spaces.
func collapseSpaces(s string) string {
	return strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
}

func splitExt(name string) (string, string) {
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return name, ""
	}
	ext := name[i:]
	if len(ext) > 16 || strings.ContainsAny(ext, " \t/\\") {
		return name, ""
	}
	return name[:i], ext
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
