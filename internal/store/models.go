package store

import (
	"strings"
	"time"
)

// VideoStatus represents the externally visible lifecycle of a video.
type VideoStatus string

const (
	VideoStatusDraft      VideoStatus = "draft"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusPublished  VideoStatus = "published"
	VideoStatusArchived   VideoStatus = "archived"
)

var videoStatusSet = map[VideoStatus]struct{}{
	VideoStatusDraft:      {},
	VideoStatusProcessing: {},
	VideoStatusPublished:  {},
	VideoStatusArchived:   {},
}

// ParseVideoStatus converts a string into a known VideoStatus.
func ParseVideoStatus(value string) (VideoStatus, bool) {
	normalized := VideoStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := videoStatusSet[normalized]
	return normalized, ok
}

// Level is the CEFR proficiency tag attached to a video.
type Level string

const (
	LevelA1 Level = "A1"
	LevelA2 Level = "A2"
	LevelB1 Level = "B1"
	LevelB2 Level = "B2"
	LevelC1 Level = "C1"
	LevelC2 Level = "C2"
)

var levelSet = map[Level]struct{}{
	LevelA1: {}, LevelA2: {},
	LevelB1: {}, LevelB2: {},
	LevelC1: {}, LevelC2: {},
}

// ParseLevel converts a string into a known Level.
func ParseLevel(value string) (Level, bool) {
	normalized := Level(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := levelSet[normalized]
	return normalized, ok
}

// SubtitleSource records how a caption track came to exist.
type SubtitleSource string

const (
	SubtitleSourceManual      SubtitleSource = "manual"
	SubtitleSourceAIGenerated SubtitleSource = "ai_generated"
	SubtitleSourceImported    SubtitleSource = "imported"
)

// Video is a catalog entry persisted in SQLite.
type Video struct {
	ID           int64
	Title        string
	Slug         string
	Description  string
	SourceURL    string
	DurationSecs float64
	Level        Level
	Language     string
	CategoryID   *int64
	Owner        string
	Status       VideoStatus
	ThumbnailKey string
	AudioKey     string
	Resolution   string
	ViewCount    int64
	PublishedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Category is admin-managed reference data with an independent lifecycle.
type Category struct {
	ID          int64
	Name        string
	Slug        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Subtitle points at one caption file for one language of one video.
type Subtitle struct {
	ID           int64
	VideoID      int64
	Language     string
	LanguageName string
	StorageKey   string
	IsDefault    bool
	Source       SubtitleSource
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Sentence is one chunked transcript segment with its word-level timing and
// per-language translations.
type Sentence struct {
	ID               int64
	VideoID          int64
	SentenceIndex    int
	Text             string
	StartTime        float64
	EndTime          float64
	WordsJSON        string
	TranslationsJSON string
	CreatedAt        time.Time
}

// VocabularyEntry is a word a user saved for review, optionally anchored to a
// moment in a video.
type VocabularyEntry struct {
	ID            int64
	UserRef       string
	Word          string
	Translation   string
	Phonetic      string
	Definition    string
	Example       string
	VideoID       *int64
	TimestampSecs *float64
	Context       string
	Mastery       int
	ReviewCount   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
