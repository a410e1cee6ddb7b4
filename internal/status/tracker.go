// Package status tracks the per-stage lifecycle of a transcription job.
package status

import (
	"errors"
	"fmt"
	"time"

	"github.com/scriptorium/api/internal/model"
)

var (
	// ErrStageFailed is returned by Begin when the stage already failed, usually
	// because an earlier stage failed or the job was cancelled.
	ErrStageFailed = errors.New("stage already failed")

	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrStageNotPlanned   = errors.New("stage not planned")
)

// Tracker is the state machine behind a job's stage records.
// Each stage moves Pending -> Processing -> Completed|Failed; Completed and
// Failed are terminal. A Tracker belongs to the single worker running the job
// and is not safe for concurrent use.
type Tracker struct {
	stages []model.StageStatus
	now    func() time.Time
}

// NewTracker creates one pending record per planned stage, in stage order
func NewTracker(plan model.Plan) *Tracker {
	stages := make([]model.StageStatus, 0, len(plan))
	for _, stage := range model.AllStages {
		if plan.Has(stage) {
			stages = append(stages, model.StageStatus{Stage: stage, Status: model.StatePending})
		}
	}
	return &Tracker{stages: stages, now: time.Now}
}

// Restore rebuilds a tracker from persisted stage records
func Restore(stages []model.StageStatus) *Tracker {
	copied := make([]model.StageStatus, len(stages))
	copy(copied, stages)
	return &Tracker{stages: copied, now: time.Now}
}

// WithClock overrides the time source
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) find(stage model.Stage) (*model.StageStatus, error) {
	for i := range t.stages {
		if t.stages[i].Stage == stage {
			return &t.stages[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %w", stage, ErrStageNotPlanned)
}

func (t *Tracker) timestamp() *time.Time {
	ts := t.now()
	return &ts
}

// Begin moves a pending stage to processing and records its start time
func (t *Tracker) Begin(stage model.Stage) error {
	s, err := t.find(stage)
	if err != nil {
		return err
	}

	switch s.Status {
	case model.StatePending:
		s.Status = model.StateProcessing
		s.StartedAt = t.timestamp()
		return nil
	case model.StateFailed:
		return fmt.Errorf("%s: %w", stage, ErrStageFailed)
	default:
		return fmt.Errorf("%s: begin from %s: %w", stage, s.Status, ErrInvalidTransition)
	}
}

// Complete moves a processing stage to completed and records its end time
func (t *Tracker) Complete(stage model.Stage) error {
	s, err := t.find(stage)
	if err != nil {
		return err
	}

	if s.Status != model.StateProcessing {
		return fmt.Errorf("%s: complete from %s: %w", stage, s.Status, ErrInvalidTransition)
	}
	s.Status = model.StateCompleted
	s.EndedAt = t.timestamp()
	return nil
}

// FailAll marks every stage that has not completed as failed with msg.
// Stages that already failed are overwritten with the newer message.
func (t *Tracker) FailAll(msg string) {
	ended := t.timestamp()
	for i := range t.stages {
		s := &t.stages[i]
		if s.Status == model.StateCompleted {
			continue
		}
		m := msg
		s.Status = model.StateFailed
		s.Error = &m
		s.EndedAt = ended
	}
}

// Cancel fails every stage that is still pending and returns how many were
// cancelled. A processing stage keeps running.
func (t *Tracker) Cancel(msg string) int {
	ended := t.timestamp()
	cancelled := 0
	for i := range t.stages {
		s := &t.stages[i]
		if s.Status != model.StatePending {
			continue
		}
		m := msg
		s.Status = model.StateFailed
		s.Error = &m
		s.EndedAt = ended
		cancelled++
	}
	return cancelled
}

// Current picks the stage a caller should be shown, in this order:
// a failed stage that started (earliest start), a processing stage
// (earliest start), the first pending stage, the most recently completed
// stage, and finally a failed stage that never started.
func (t *Tracker) Current() (model.StageStatus, bool) {
	var (
		failedStarted *model.StageStatus
		processing    *model.StageStatus
		pending       *model.StageStatus
		completed     *model.StageStatus
		failedUnrun   *model.StageStatus
	)

	for i := range t.stages {
		s := &t.stages[i]
		switch s.Status {
		case model.StateFailed:
			if s.Started() {
				if failedStarted == nil || s.StartedAt.Before(*failedStarted.StartedAt) {
					failedStarted = s
				}
			} else if failedUnrun == nil || s.Stage.Ordinal() < failedUnrun.Stage.Ordinal() {
				failedUnrun = s
			}
		case model.StateProcessing:
			if processing == nil || startedBefore(s, processing) {
				processing = s
			}
		case model.StatePending:
			if pending == nil || s.Stage.Ordinal() < pending.Stage.Ordinal() {
				pending = s
			}
		case model.StateCompleted:
			if completed == nil || endedAfter(s, completed) {
				completed = s
			}
		}
	}

	for _, s := range []*model.StageStatus{failedStarted, processing, pending, completed, failedUnrun} {
		if s != nil {
			return *s, true
		}
	}
	return model.StageStatus{}, false
}

func startedBefore(a, b *model.StageStatus) bool {
	if a.StartedAt == nil {
		return false
	}
	return b.StartedAt == nil || a.StartedAt.Before(*b.StartedAt)
}

func endedAfter(a, b *model.StageStatus) bool {
	if a.EndedAt == nil {
		return false
	}
	return b.EndedAt == nil || a.EndedAt.After(*b.EndedAt)
}

// Get returns the record for a single stage
func (t *Tracker) Get(stage model.Stage) (model.StageStatus, error) {
	s, err := t.find(stage)
	if err != nil {
		return model.StageStatus{}, err
	}
	return *s, nil
}

// Stages returns a copy of the stage records in stage order
func (t *Tracker) Stages() []model.StageStatus {
	out := make([]model.StageStatus, len(t.stages))
	copy(out, t.stages)
	return out
}

// Done reports whether no stage is pending or processing
func (t *Tracker) Done() bool {
	for _, s := range t.stages {
		if !s.Status.Terminal() {
			return false
		}
	}
	return true
}

// JobStatus derives the overall job status from the stage records
func (t *Tracker) JobStatus() model.JobStatus {
	return Summarize(t.stages)
}

// Summarize derives the overall job status from stage records
func Summarize(stages []model.StageStatus) model.JobStatus {
	var pending, processing, completed, failed, failedUnrun int
	for _, s := range stages {
		switch s.Status {
		case model.StatePending:
			pending++
		case model.StateProcessing:
			processing++
		case model.StateCompleted:
			completed++
		case model.StateFailed:
			failed++
			if !s.Started() {
				failedUnrun++
			}
		}
	}

	switch {
	case processing > 0:
		return model.JobStatusRunning
	case failed > 0 && failed == failedUnrun && isCancelled(stages):
		return model.JobStatusCanceled
	case failed > 0:
		return model.JobStatusFailed
	case completed > 0 && pending > 0:
		return model.JobStatusRunning
	case pending > 0:
		return model.JobStatusQueued
	default:
		return model.JobStatusSucceeded
	}
}

// CancelledMessage is recorded on stages failed by a cancellation request
const CancelledMessage = "cancelled"

func isCancelled(stages []model.StageStatus) bool {
	for _, s := range stages {
		if s.Status == model.StateFailed && s.Error != nil && *s.Error == CancelledMessage {
			return true
		}
	}
	return false
}
