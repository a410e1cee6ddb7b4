package pipeline

import (
	"context"

	"github.com/scriptorium/api/internal/model"
)

// Media describes a locally available media file
type Media struct {
	Path     string
	Title    string
	URL      string
	Duration float64
	Size     int64
}

// MediaAcquirer downloads media referenced by a locator (usually a URL)
type MediaAcquirer interface {
	Fetch(ctx context.Context, locator string) (Media, error)
}

// TranscribeOptions are the per-job transcriber settings
type TranscribeOptions struct {
	Model     string
	Language  string
	Hotwords  string
	VADFilter bool
}

// Transcriber turns media into timestamped words with empty speakers
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string, opts TranscribeOptions) ([]model.Word, error)
}

// Diarizer returns who spoke when
type Diarizer interface {
	Diarize(ctx context.Context, mediaPath string) ([]model.SpeakerTurn, error)
}

// Prober reads media metadata
type Prober interface {
	Duration(ctx context.Context, mediaPath string) (float64, error)
}

// Sink persists pipeline output. Every call replaces what was stored before.
type Sink interface {
	SaveStages(ctx context.Context, jobID string, stages []model.StageStatus) error
	SaveMedia(ctx context.Context, jobID string, media Media) error
	SaveWords(ctx context.Context, jobID string, words []model.Word) error
	SaveTurns(ctx context.Context, jobID string, turns []model.SpeakerTurn) error
	SaveSegments(ctx context.Context, jobID string, segments []model.Segment, description string) error
	Cancelled(ctx context.Context, jobID string) (bool, error)
}

// Listener is told about every stage transition
type Listener interface {
	StageChanged(jobID string, stage model.StageStatus, status model.JobStatus)
}
