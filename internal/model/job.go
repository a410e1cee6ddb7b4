package model

import "time"

// Job represents a transcription job and owns its stage records
type Job struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Notes       string        `json:"notes"`
	SourceURL   string        `json:"sourceUrl,omitempty"`
	MediaPath   string        `json:"mediaPath,omitempty"`
	MediaURL    string        `json:"mediaUrl,omitempty"`
	Duration    float64       `json:"duration,omitempty"`
	Options     JobOptions    `json:"options"`
	Stages      []StageStatus `json:"stages"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// JobOptions carries the per-job transcription settings
type JobOptions struct {
	Model      string  `json:"model"`
	Language   string  `json:"language,omitempty"`
	Hotwords   string  `json:"hotwords,omitempty"`
	VADFilter  bool    `json:"vadFilter"`
	Diarize    bool    `json:"diarize"`
	MaxChars   int     `json:"maxChars,omitempty"`
	MaxSeconds float64 `json:"maxSeconds,omitempty"`
}

// Plan returns the stages scheduled for the job
func (j *Job) Plan() Plan {
	plan := make(Plan, 0, len(j.Stages))
	for _, s := range j.Stages {
		plan = append(plan, s.Stage)
	}
	return plan
}

// Plan is the ordered subset of stages computed once at submission
type Plan []Stage

// NewPlan builds the stage plan. Transcription is always planned.
func NewPlan(acquire, diarize bool) Plan {
	plan := make(Plan, 0, len(AllStages))
	if acquire {
		plan = append(plan, StageAcquire)
	}
	plan = append(plan, StageTranscribe)
	if diarize {
		plan = append(plan, StageDiarize)
	}
	return plan
}

// Has reports whether the stage is part of the plan
func (p Plan) Has(stage Stage) bool {
	for _, s := range p {
		if s == stage {
			return true
		}
	}
	return false
}

// TranscribeJobPayload is the asynq task payload for a transcription job
type TranscribeJobPayload struct {
	JobID string `json:"jobId"`
}
