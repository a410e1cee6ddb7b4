package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/scriptorium/api/internal/model"
	"github.com/scriptorium/api/internal/pipeline"
	"github.com/scriptorium/api/internal/status"
)

// RedisSink persists pipeline output next to the job record
type RedisSink struct {
	svc *TranscriptionService
}

// Sink returns the pipeline sink backed by this service's Redis
func (s *TranscriptionService) Sink() *RedisSink {
	return &RedisSink{svc: s}
}

var _ pipeline.Sink = (*RedisSink)(nil)

// SaveStages replaces the stage records. A stored stage that failed before
// it started, usually through an API cancellation, is final: an older pending
// or failed copy leaves it as stored, and an attempt to run or complete it is
// refused with status.ErrStageFailed.
func (k *RedisSink) SaveStages(ctx context.Context, jobID string, stages []model.StageStatus) error {
	return k.svc.updateJob(ctx, jobID, func(job *model.Job) error {
		stored := make(map[model.Stage]model.StageStatus, len(job.Stages))
		for _, st := range job.Stages {
			stored[st.Stage] = st
		}

		merged := make([]model.StageStatus, len(stages))
		copy(merged, stages)
		for i, st := range merged {
			prev, ok := stored[st.Stage]
			if !ok || prev.Status != model.StateFailed || prev.Started() {
				continue
			}
			switch st.Status {
			case model.StatePending, model.StateFailed:
				merged[i] = prev
			default:
				return fmt.Errorf("%s: %w", st.Stage, status.ErrStageFailed)
			}
		}
		job.Stages = merged
		return nil
	})
}

func (k *RedisSink) SaveMedia(ctx context.Context, jobID string, media pipeline.Media) error {
	return k.svc.updateJob(ctx, jobID, func(job *model.Job) error {
		job.MediaPath = media.Path
		if media.URL != "" {
			job.MediaURL = media.URL
		}
		if job.Title == "" {
			job.Title = media.Title
		}
		if media.Duration > 0 {
			job.Duration = media.Duration
		}
		return nil
	})
}

func (k *RedisSink) SaveWords(ctx context.Context, jobID string, words []model.Word) error {
	return k.saveList(ctx, jobID, wordsKey(jobID), words, nil)
}

func (k *RedisSink) SaveTurns(ctx context.Context, jobID string, turns []model.SpeakerTurn) error {
	return k.saveList(ctx, jobID, turnsKey(jobID), turns, nil)
}

func (k *RedisSink) SaveSegments(ctx context.Context, jobID string, segments []model.Segment, description string) error {
	return k.saveList(ctx, jobID, segmentsKey(jobID), segments, func(job *model.Job) error {
		job.Description = description
		return nil
	})
}

// saveList writes a stage output under the job's transaction, so nothing is
// stored for a job deleted while its stage was running
func (k *RedisSink) saveList(ctx context.Context, jobID, key string, v interface{}, fn func(job *model.Job) error) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if fn == nil {
		fn = func(*model.Job) error { return nil }
	}
	return k.svc.updateJob(ctx, jobID, fn, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, key, data, jobRetention)
	})
}

// Cancelled reports whether the job was cancelled or deleted
func (k *RedisSink) Cancelled(ctx context.Context, jobID string) (bool, error) {
	n, err := k.svc.redis.Exists(ctx, cancelKey(jobID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
