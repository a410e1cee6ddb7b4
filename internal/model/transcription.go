package model

import "time"

// TranscribeSettings are the per-job options shared by URL and upload submissions
type TranscribeSettings struct {
	Title      string  `json:"title" form:"title" validate:"omitempty,max=200"`
	Model      string  `json:"model" form:"model" validate:"omitempty,oneof=tiny base small medium large-v2 large-v3"`
	Language   string  `json:"language" form:"language" validate:"omitempty,len=2"`
	Hotwords   string  `json:"hotwords" form:"hotwords" validate:"omitempty,max=500"`
	VADFilter  bool    `json:"vadFilter" form:"vadFilter"`
	Diarize    bool    `json:"diarize" form:"diarize"`
	MaxChars   int     `json:"maxChars" form:"maxChars" validate:"omitempty,min=1,max=1000"`
	MaxSeconds float64 `json:"maxSeconds" form:"maxSeconds" validate:"omitempty,gt=0,max=600"`
}

// Options converts the settings into per-job options
func (r TranscribeSettings) Options() JobOptions {
	opts := JobOptions{
		Model:      r.Model,
		Language:   r.Language,
		Hotwords:   r.Hotwords,
		VADFilter:  r.VADFilter,
		Diarize:    r.Diarize,
		MaxChars:   r.MaxChars,
		MaxSeconds: r.MaxSeconds,
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	return opts
}

// TranscribeRequest represents the request to start a transcription from a media locator
type TranscribeRequest struct {
	SourceURL string `json:"sourceUrl" validate:"required,url"`
	TranscribeSettings
}

// TranscribeStartResponse represents the response when a transcription is queued
type TranscribeStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Stages    []Stage   `json:"stages"`
	CreatedAt time.Time `json:"createdAt"`
}

// TranscriptionStatusResponse represents the status of a transcription job
type TranscriptionStatusResponse struct {
	JobID     string        `json:"jobId"`
	Title     string        `json:"title"`
	Status    JobStatus     `json:"status"`
	Current   *StageStatus  `json:"current"`
	Stages    []StageStatus `json:"stages"`
	CreatedAt time.Time     `json:"createdAt"`
}

// TranscriptResponse represents a finished (or partially finished) transcript
type TranscriptResponse struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Notes       string        `json:"notes"`
	MediaURL    string        `json:"mediaUrl,omitempty"`
	Speakers    []string      `json:"speakers"`
	Segments    []Segment     `json:"segments"`
	Words       []Word        `json:"words,omitempty"`
	Turns       []SpeakerTurn `json:"turns,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// TranscriptionSummary is a list entry
type TranscriptionSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      JobStatus `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TranscriptionListResponse is a page of transcriptions, newest first
type TranscriptionListResponse struct {
	Items  []TranscriptionSummary `json:"items"`
	Total  int64                  `json:"total"`
	Offset int                    `json:"offset"`
	Limit  int                    `json:"limit"`
}

// TranscriptionCancelResponse represents the response when canceling a transcription
type TranscriptionCancelResponse struct {
	Success   bool      `json:"success"`
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Cancelled int       `json:"cancelled"`
}

// RenameSpeakerRequest renames every segment attributed to a speaker label
type RenameSpeakerRequest struct {
	From string `json:"from" validate:"required,max=100"`
	To   string `json:"to" validate:"required,max=100,nefield=From"`
}

// UpdateTranscriptionRequest edits the user-facing metadata of a transcript
type UpdateTranscriptionRequest struct {
	Title *string `json:"title" validate:"omitempty,min=1,max=200"`
	Notes *string `json:"notes" validate:"omitempty,max=10000"`
}

// UpdateSegmentRequest edits a single segment
type UpdateSegmentRequest struct {
	Text    *string `json:"text" validate:"omitempty,min=1,max=5000"`
	Speaker *string `json:"speaker" validate:"omitempty,min=1,max=100"`
}
