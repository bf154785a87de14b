package utils

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "shorter than cap", in: "disk full", max: 100, want: "disk full"},
		{name: "exact cap", in: "disk", max: 4, want: "disk"},
		{name: "ascii cut", in: "disk full on db-1", max: 9, want: "disk full"},
		{name: "zero cap", in: "disk", max: 0, want: ""},
		{name: "rune boundary backoff", in: "café overload", max: 4, want: "caf"},
		{name: "multibyte only", in: "データベース障害", max: 7, want: "デー"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.max)
			}
		})
	}
}

func TestTruncateNeverSplitsRunes(t *testing.T) {
	in := strings.Repeat("é", 50)
	for max := 0; max <= len(in); max++ {
		if got := Truncate(in, max); !utf8.ValidString(got) {
			t.Fatalf("Truncate at %d bytes split a rune: %q", max, got)
		}
	}
}
