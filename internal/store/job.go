package store

import (
	"strings"
	"time"
)

// Stage represents where a processing job sits in the pipeline.
type Stage string

const (
	StageQueued            Stage = "queued"
	StageExtracting        Stage = "extracting"
	StageTranscribing      Stage = "transcribing"
	StageChunking          Stage = "chunking"
	StageTranslating       Stage = "translating"
	StageEmittingSubtitles Stage = "emitting_subtitles"
	StageIndexing          Stage = "indexing"
	StageDone              Stage = "done"
	StageFailed            Stage = "failed"
)

// CancelledReason is the error message recorded when a user cancels a job.
const CancelledReason = "cancelled"

// DaemonStopReason is the error message recorded when jobs are released due
// to daemon shutdown.
const DaemonStopReason = "daemon stopped"

var stageOrder = []Stage{
	StageQueued,
	StageExtracting,
	StageTranscribing,
	StageChunking,
	StageTranslating,
	StageEmittingSubtitles,
	StageIndexing,
	StageDone,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(stageOrder)+1)
	for _, stage := range stageOrder {
		set[stage] = struct{}{}
	}
	set[StageFailed] = struct{}{}
	return set
}()

// AllStages returns the ordered pipeline stages followed by the failed state.
func AllStages() []Stage {
	cp := make([]Stage, len(stageOrder), len(stageOrder)+1)
	copy(cp, stageOrder)
	return append(cp, StageFailed)
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// NextStage returns the stage that follows the given one in pipeline order.
// Terminal stages have no successor.
func NextStage(stage Stage) (Stage, bool) {
	for i, s := range stageOrder {
		if s == stage && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// IsTerminal reports whether a stage is an absorbing state.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// ProcessingJob is one execution attempt of the pipeline for one video. The
// workflow manager exclusively owns its state; Video.Status is the only
// projection the rest of the system reads.
type ProcessingJob struct {
	ID             int64
	VideoID        int64
	Stage          Stage
	Attempts       int
	ErrorMessage   string
	Retryable      bool
	ResumeStage    Stage
	AudioPath      string
	TranscriptPath string
	CorrelationID  string
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the job is still progressing through the pipeline.
func (j ProcessingJob) Active() bool {
	return !j.Stage.IsTerminal()
}

// Cancelled reports whether a failed job was stopped by user request.
func (j ProcessingJob) Cancelled() bool {
	return j.Stage == StageFailed && strings.EqualFold(strings.TrimSpace(j.ErrorMessage), CancelledReason)
}
