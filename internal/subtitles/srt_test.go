package subtitles

import (
	"strings"
	"testing"
)

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{61.25, "00:01:01,250"},
		{3661.007, "01:01:01,007"},
		{-2, "00:00:00,000"},
	}
	for _, tc := range cases {
		if got := formatTimestamp(tc.seconds); got != tc.want {
			t.Errorf("formatTimestamp(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestRenderSRT(t *testing.T) {
	cues := []Cue{
		{Index: 0, Start: 0, End: 1.2, Text: "Hello there."},
		{Index: 1, Start: 1.5, End: 3.0, Text: "Welcome back."},
	}
	got := RenderSRT(cues)
	want := "1\n" +
		"00:00:00,000 --> 00:00:01,200\n" +
		"Hello there.\n" +
		"\n" +
		"2\n" +
		"00:00:01,500 --> 00:00:03,000\n" +
		"Welcome back.\n"
	if got != want {
		t.Fatalf("unexpected SRT output:\n%q\nwant:\n%q", got, want)
	}
}

func TestRenderSRTNumbersFromOne(t *testing.T) {
	cues := []Cue{{Index: 17, Start: 10, End: 11, Text: "mid-video cue"}}
	got := RenderSRT(cues)
	if !strings.HasPrefix(got, "1\n") {
		t.Fatalf("expected cue numbering to restart at 1, got %q", got)
	}
}

func TestLanguageName(t *testing.T) {
	cases := map[string]string{
		"vi": "Vietnamese",
		"ja": "Japanese",
		"en": "English",
	}
	for code, want := range cases {
		if got := LanguageName(code); got != want {
			t.Errorf("LanguageName(%q) = %q, want %q", code, got, want)
		}
	}
	if got := LanguageName("not-a-tag!"); got != "not-a-tag!" {
		t.Errorf("expected fallback to raw code, got %q", got)
	}
}
