// Package chunker turns a word-level transcript into subtitle-sized
// sentences. Segmentation is deterministic: the same word sequence always
// produces the same segments, which keeps re-runs of the chunking stage
// idempotent.
package chunker

import (
	"strings"

	"lingopipe/internal/config"
	"lingopipe/internal/transcribe"
)

// Segment is one chunk of transcript with its word span and timing.
type Segment struct {
	Index int
	Text  string
	Start float64
	End   float64
	Words []transcribe.Word
}

// trailingPunctuation strips closing quotes and brackets so that a sentence
// ending in `word."` still counts as a sentence boundary.
const closingRunes = `"')]»”’`

func endsSentence(text string) bool {
	trimmed := strings.TrimRight(strings.TrimSpace(text), closingRunes)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return strings.HasSuffix(trimmed, "…")
}

// Split segments the word sequence using three boundary rules, applied in
// order after each word:
//
//  1. the word carries sentence-final punctuation
//  2. the silence gap before the next word is at least SilenceGapSecs
//  3. the open segment reached MaxWords words or MaxSeconds of audio
//
// Rules 1 and 2 produce natural sentence breaks; rule 3 is the hard cap
// that keeps run-on speech readable as a subtitle.
func Split(words []transcribe.Word, bounds config.Chunker) []Segment {
	if len(words) == 0 {
		return nil
	}

	var segments []Segment
	var open []transcribe.Word

	flush := func() {
		if len(open) == 0 {
			return
		}
		segments = append(segments, newSegment(len(segments), open))
		open = nil
	}

	for i, word := range words {
		open = append(open, word)

		if endsSentence(word.Text) {
			flush()
			continue
		}
		if i+1 < len(words) && bounds.SilenceGapSecs > 0 &&
			words[i+1].Start-word.End >= bounds.SilenceGapSecs {
			flush()
			continue
		}
		if bounds.MaxWords > 0 && len(open) >= bounds.MaxWords {
			flush()
			continue
		}
		if bounds.MaxSeconds > 0 && word.End-open[0].Start >= bounds.MaxSeconds {
			flush()
		}
	}
	flush()
	return segments
}

func newSegment(index int, words []transcribe.Word) Segment {
	parts := make([]string, 0, len(words))
	for _, word := range words {
		parts = append(parts, strings.TrimSpace(word.Text))
	}
	copied := make([]transcribe.Word, len(words))
	copy(copied, words)
	return Segment{
		Index: index,
		Text:  strings.Join(parts, " "),
		Start: words[0].Start,
		End:   words[len(words)-1].End,
		Words: copied,
	}
}
