package tokenutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEstimateFast_Empty(t *testing.T) {
	if got := EstimateFast(""); got != 0 {
		t.Errorf("EstimateFast(\"\") = %d, want 0", got)
	}
}

func TestEstimateFast_Whitespace(t *testing.T) {
	if got := EstimateFast("   \n\t  "); got != 0 {
		t.Errorf("EstimateFast(whitespace) = %d, want 0", got)
	}
}

func TestEstimateFast_MinWordCount(t *testing.T) {
	// "a b c d" has 4 words, 7 runes → runes/4=1, but word count=4 → max is 4
	if got := EstimateFast("a b c d"); got != 4 {
		t.Errorf("EstimateFast(\"a b c d\") = %d, want 4", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("short", 300); got != "short" {
		t.Errorf("TruncateRunes kept %q, want unchanged", got)
	}
	long := strings.Repeat("é", 400)
	got := TruncateRunes(long, 300)
	if n := utf8.RuneCountInString(got); n != 300 {
		t.Errorf("TruncateRunes length = %d, want 300", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated result should end with '...'")
	}
	if got := TruncateRunes("abcdef", 2); got != "ab" {
		t.Errorf("TruncateRunes tiny limit = %q, want ab", got)
	}
}
