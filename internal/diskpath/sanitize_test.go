package diskpath

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeSegment_IllegalCharacters(t *testing.T) {
	for _, c := range []string{"/", `\`, ":", "*", "?", `"`, "<", ">", "|"} {
		t.Run(c, func(t *testing.T) {
			got := SanitizeSegment("a" + c + "b" + c + c + "c")
			want := "a_b__c"
			if got != want {
				t.Errorf("SanitizeSegment(%q) = %q, want %q", "a"+c+"b"+c+c+"c", got, want)
			}
		})
	}
}

func TestSanitizeSegment(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "two dots", in: "..", want: ""},
		{name: "three dots", in: "...", want: ""},
		{name: "dots and spaces", in: " . .. ", want: ""},
		{name: "multi-dot collapses", in: "a...b", want: "a.b"},
		{name: "leading and trailing dots trimmed", in: "..hidden..", want: "hidden"},
		{name: "control characters removed", in: "a\tb\x01c", want: "abc"},
		{name: "cyrillic untouched", in: "Фото машины", want: "Фото машины"},
		{name: "encoded traversal", in: "../../etc", want: "_._etc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeSegment(tt.in); got != tt.want {
				t.Errorf("SanitizeSegment(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeSegment_Truncates(t *testing.T) {
	got := SanitizeSegment(strings.Repeat("a", 300))
	if n := utf8.RuneCountInString(got); n != MaxSegmentLength {
		t.Errorf("length = %d, want %d", n, MaxSegmentLength)
	}

	got = SanitizeSegment(strings.Repeat("ж", 300))
	if n := utf8.RuneCountInString(got); n != MaxSegmentLength {
		t.Errorf("multibyte length = %d, want %d", n, MaxSegmentLength)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "IMG_0001.JPG", want: "IMG_0001.JPG"},
		{name: "illegal characters", in: `my:photo?.jpg`, want: "my_photo_.jpg"},
		{name: "no extension", in: "photo", want: "photo"},
		{name: "dots only base", in: "...jpg", want: ""},
		{name: "traversal", in: "../../evil.jpg", want: "_._evil.jpg"},
		{name: "empty", in: "  ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename_KeepsExtensionWhenTruncating(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("b", 300) + ".jpeg")
	if !strings.HasSuffix(got, ".jpeg") {
		t.Errorf("extension lost: %q", got[len(got)-10:])
	}
	if n := utf8.RuneCountInString(got); n != MaxSegmentLength {
		t.Errorf("length = %d, want %d", n, MaxSegmentLength)
	}
}
