package model

import (
	"errors"
	"fmt"
	"time"
)

// OverlapSpeaker labels the part of the timeline where two diarized turns conflict
const OverlapSpeaker = "OVERLAP"

// ErrInvalidInterval is returned when a collaborator hands back a malformed time interval
var ErrInvalidInterval = errors.New("invalid time interval")

// Word is a timestamped token returned by the transcriber
type Word struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker"`
}

// SpeakerTurn is an interval attributed to one speaker by the diarizer.
// Resolved turns use the same shape and may carry OverlapSpeaker.
type SpeakerTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Segment is a speaker-homogeneous run of words shown as one display unit
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker"`
	Confidence float64 `json:"confidence"`
}

// StageStatus records the lifecycle of a single pipeline stage
type StageStatus struct {
	Stage     Stage      `json:"stage"`
	Status    StageState `json:"status"`
	StartedAt *time.Time `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
	Error     *string    `json:"error"`
}

// Started reports whether the stage ever entered processing
func (s StageStatus) Started() bool {
	return s.StartedAt != nil
}

func validInterval(start, end float64) bool {
	return start >= 0 && end >= start
}

// ValidateWords checks the transcriber output before it reaches the segment algorithms
func ValidateWords(words []Word) error {
	for i, w := range words {
		if !validInterval(w.Start, w.End) {
			return fmt.Errorf("word %d [%g, %g]: %w", i, w.Start, w.End, ErrInvalidInterval)
		}
		if w.Confidence < 0 || w.Confidence > 1 {
			return fmt.Errorf("word %d confidence %g out of range: %w", i, w.Confidence, ErrInvalidInterval)
		}
	}
	return nil
}

// ValidateTurns checks the diarizer output before overlap resolution
func ValidateTurns(turns []SpeakerTurn) error {
	for i, t := range turns {
		if !validInterval(t.Start, t.End) {
			return fmt.Errorf("turn %d [%g, %g]: %w", i, t.Start, t.End, ErrInvalidInterval)
		}
	}
	return nil
}
