package chunker

import (
	"fmt"
	"reflect"
	"testing"

	"lingopipe/internal/config"
	"lingopipe/internal/transcribe"
)

func spokenWords(texts ...string) []transcribe.Word {
	words := make([]transcribe.Word, 0, len(texts))
	cursor := 0.0
	for _, text := range texts {
		words = append(words, transcribe.Word{Text: text, Start: cursor, End: cursor + 0.4})
		cursor += 0.5
	}
	return words
}

func segmentTexts(segments []Segment) []string {
	texts := make([]string, 0, len(segments))
	for _, segment := range segments {
		texts = append(texts, segment.Text)
	}
	return texts
}

func defaultBounds() config.Chunker {
	return config.Default().Chunker
}

func TestSplitBreaksOnSentencePunctuation(t *testing.T) {
	words := spokenWords("Hello", "there.", "How", "are", "you?", "Fine!")
	segments := Split(words, defaultBounds())

	want := []string{"Hello there.", "How are you?", "Fine!"}
	if got := segmentTexts(segments); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected segments: %v", got)
	}
	for i, segment := range segments {
		if segment.Index != i {
			t.Fatalf("segment %d has index %d", i, segment.Index)
		}
	}
}

func TestSplitHandlesClosingQuotes(t *testing.T) {
	words := spokenWords("She", "said", `"stop."`, "Then", "silence.")
	segments := Split(words, defaultBounds())

	want := []string{`She said "stop."`, "Then silence."}
	if got := segmentTexts(segments); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected segments: %v", got)
	}
}

func TestSplitBreaksOnSilenceGap(t *testing.T) {
	words := []transcribe.Word{
		{Text: "okay", Start: 0.0, End: 0.4},
		{Text: "so", Start: 0.5, End: 0.8},
		// Speaker pauses for two seconds before resuming.
		{Text: "anyway", Start: 2.9, End: 3.3},
		{Text: "moving", Start: 3.4, End: 3.8},
		{Text: "on", Start: 3.9, End: 4.2},
	}
	segments := Split(words, defaultBounds())

	want := []string{"okay so", "anyway moving on"}
	if got := segmentTexts(segments); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected segments: %v", got)
	}
	if segments[1].Start != 2.9 || segments[1].End != 4.2 {
		t.Fatalf("unexpected timing on second segment: %+v", segments[1])
	}
}

func TestSplitForcesBreakAtMaxWords(t *testing.T) {
	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("word%d", i)
	}
	bounds := defaultBounds()
	bounds.MaxWords = 4
	segments := Split(spokenWords(texts...), bounds)

	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d: %v", len(segments), segmentTexts(segments))
	}
	if len(segments[0].Words) != 4 || len(segments[1].Words) != 4 || len(segments[2].Words) != 2 {
		t.Fatalf("unexpected word counts: %v", segmentTexts(segments))
	}
}

func TestSplitForcesBreakAtMaxSeconds(t *testing.T) {
	words := []transcribe.Word{
		{Text: "one", Start: 0, End: 2},
		{Text: "two", Start: 2, End: 4},
		{Text: "three", Start: 4, End: 6},
		{Text: "four", Start: 6, End: 8},
	}
	bounds := defaultBounds()
	bounds.MaxSeconds = 4
	segments := Split(words, bounds)

	want := []string{"one two", "three four"}
	if got := segmentTexts(segments); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected segments: %v", got)
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	words := spokenWords("a", "b.", "c", "d", "e", "f.", "g")
	first := Split(words, defaultBounds())
	second := Split(words, defaultBounds())
	if !reflect.DeepEqual(first, second) {
		t.Fatal("segmentation is not deterministic")
	}
}

func TestSplitEmptyInput(t *testing.T) {
	if segments := Split(nil, defaultBounds()); segments != nil {
		t.Fatalf("expected nil segments, got %v", segments)
	}
}

func TestSplitTrailingWordsWithoutPunctuation(t *testing.T) {
	words := spokenWords("and", "then", "it", "just")
	segments := Split(words, defaultBounds())
	if len(segments) != 1 || segments[0].Text != "and then it just" {
		t.Fatalf("unexpected segments: %v", segmentTexts(segments))
	}
}
