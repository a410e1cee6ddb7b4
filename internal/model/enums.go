package model

// Stage identifies one step of the transcription pipeline
type Stage string

const (
	StageAcquire    Stage = "acquire"
	StageTranscribe Stage = "transcribe"
	StageDiarize    Stage = "diarize"
)

// AllStages lists every stage in execution order
var AllStages = []Stage{StageAcquire, StageTranscribe, StageDiarize}

// Ordinal returns the position of the stage in the pipeline, or -1 for an unknown stage
func (s Stage) Ordinal() int {
	for i, stage := range AllStages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Step returns the human readable label shown while the stage runs
func (s Stage) Step() string {
	switch s {
	case StageAcquire:
		return "Downloading media..."
	case StageTranscribe:
		return "Transcribing media..."
	case StageDiarize:
		return "Diarizing speakers..."
	default:
		return ""
	}
}

// Failure returns the message recorded when the stage fails
func (s Stage) Failure() string {
	switch s {
	case StageAcquire:
		return "Downloading media failed"
	case StageTranscribe:
		return "Transcribing media failed"
	case StageDiarize:
		return "Diarizing media failed"
	default:
		return "Processing failed"
	}
}

// Stage status
type StageState string

const (
	StatePending    StageState = "pending"
	StateProcessing StageState = "processing"
	StateCompleted  StageState = "completed"
	StateFailed     StageState = "failed"
)

// Terminal reports whether no further transition can leave the state
func (s StageState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job status, derived from the stage records
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Whisper models accepted by the transcriber service
var ValidModels = []string{"tiny", "base", "small", "medium", "large-v2", "large-v3"}

const DefaultModel = "base"
