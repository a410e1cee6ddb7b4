package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/scriptorium/api/internal/model"
	"github.com/scriptorium/api/internal/pipeline"
	"github.com/scriptorium/api/internal/service"
)

// JobLoader reads a stored job
type JobLoader interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
}

// Runner executes the stages of a job
type Runner interface {
	Run(ctx context.Context, job *model.Job) (pipeline.Result, error)
}

// Notifier tells subscribers how a job ended
type Notifier interface {
	BroadcastComplete(jobID string, segments int)
	BroadcastError(jobID string, code, message string)
}

// TranscribeWorker processes transcription tasks
type TranscribeWorker struct {
	jobs     JobLoader
	runner   Runner
	notifier Notifier
	log      *logrus.Logger
}

// NewTranscribeWorker creates a new transcription worker
func NewTranscribeWorker(jobs JobLoader, runner Runner, notifier Notifier, log *logrus.Logger) *TranscribeWorker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TranscribeWorker{
		jobs:     jobs,
		runner:   runner,
		notifier: notifier,
		log:      log,
	}
}

// ProcessTask handles transcription task processing.
// A failed job is final, so errors are never retried.
func (w *TranscribeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.TranscribeJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	log := w.log.WithField("job_id", payload.JobID)

	job, err := w.jobs.GetJob(ctx, payload.JobID)
	if errors.Is(err, service.ErrJobNotFound) {
		log.Info("Job no longer exists, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	log.WithField("stages", job.Plan()).Info("Starting transcription job")

	result, err := w.runner.Run(ctx, job)
	switch {
	case errors.Is(err, pipeline.ErrCancelled):
		log.Info("Transcription job cancelled")
		w.notifier.BroadcastError(job.ID, "CANCELLED", "Transcription cancelled")
		return nil

	case err != nil:
		log.WithError(err).Error("Transcription job failed")
		w.notifier.BroadcastError(job.ID, "STAGE_FAILED", err.Error())
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	w.notifier.BroadcastComplete(job.ID, len(result.Segments))
	log.WithFields(logrus.Fields{
		"segments": len(result.Segments),
		"status":   result.Status,
	}).Info("Transcription job completed")
	return nil
}
