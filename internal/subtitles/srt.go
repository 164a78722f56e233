// Package subtitles renders sentence rows as SubRip caption files, one per
// language, and registers the resulting tracks on the video.
package subtitles

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Cue is one numbered caption with its display window.
type Cue struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// formatTimestamp renders seconds as the SubRip HH:MM:SS,mmm form.
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	secs := int(d / time.Second)
	millis := int(d/time.Millisecond) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// RenderSRT produces the full SubRip document for the given cues. Cue
// numbering starts at 1 regardless of the sentence indices behind it.
func RenderSRT(cues []Cue) string {
	var builder strings.Builder
	for i, cue := range cues {
		if i > 0 {
			builder.WriteString("\n")
		}
		fmt.Fprintf(&builder, "%d\n", i+1)
		fmt.Fprintf(&builder, "%s --> %s\n", formatTimestamp(cue.Start), formatTimestamp(cue.End))
		builder.WriteString(strings.TrimSpace(cue.Text))
		builder.WriteString("\n")
	}
	return builder.String()
}

// LanguageName returns the English display name for a BCP 47 language tag,
// falling back to the tag itself when it cannot be parsed.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}
