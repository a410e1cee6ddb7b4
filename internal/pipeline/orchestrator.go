// Package pipeline runs a transcription job through its planned stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/scriptorium/api/internal/metrics"
	"github.com/scriptorium/api/internal/model"
	"github.com/scriptorium/api/internal/segment"
	"github.com/scriptorium/api/internal/status"
)

const descriptionMaxLength = 100

// ErrCancelled is returned when the job was cancelled before its next stage began
var ErrCancelled = errors.New("job cancelled")

// StageError reports the stage whose collaborator or sink failed
type StageError struct {
	Stage model.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage.Failure(), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Dependencies wires the collaborators of an Orchestrator.
// Acquirer and Diarizer may be nil when the job plans never include their stage.
type Dependencies struct {
	Acquirer    MediaAcquirer
	Transcriber Transcriber
	Diarizer    Diarizer
	Prober      Prober
	Sink        Sink
	Listener    Listener
	Resegmenter *segment.Resegmenter
	Logger      *logrus.Logger
}

// Orchestrator drives acquire -> transcribe -> diarize for one job at a time.
// It is stateless between runs and safe to share across workers.
type Orchestrator struct {
	deps Dependencies
	now  func() time.Time
}

// Result is the outcome of a run
type Result struct {
	Stages   []model.StageStatus
	Status   model.JobStatus
	Segments []model.Segment
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(deps Dependencies) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Orchestrator{deps: deps, now: time.Now}
}

// run holds the state of a single job execution
type run struct {
	*Orchestrator
	job      *model.Job
	tracker  *status.Tracker
	log      *logrus.Entry
	segments []model.Segment
}

// Run executes every planned stage of job in order. Stage outputs are handed
// to the next stage directly. The first failure marks every unfinished stage
// failed and stops the run; later collaborators are never called.
//
// A failed run returns a *StageError, or ErrCancelled when a cancellation
// was observed between stages.
func (o *Orchestrator) Run(ctx context.Context, job *model.Job) (Result, error) {
	r := &run{
		Orchestrator: o,
		job:          job,
		tracker:      status.Restore(job.Stages).WithClock(o.now),
		log:          o.deps.Logger.WithField("job_id", job.ID),
	}

	err := r.execute(ctx)
	job.Stages = r.tracker.Stages()
	return Result{
		Stages:   job.Stages,
		Status:   r.tracker.JobStatus(),
		Segments: r.segments,
	}, err
}

func (r *run) execute(ctx context.Context) error {
	plan := r.job.Plan()
	mediaPath := r.job.MediaPath

	if plan.Has(model.StageAcquire) {
		err := r.stage(ctx, model.StageAcquire, func(ctx context.Context) error {
			path, err := r.acquire(ctx)
			mediaPath = path
			return err
		})
		if err != nil {
			return err
		}
	}

	var words []model.Word
	err := r.stage(ctx, model.StageTranscribe, func(ctx context.Context) error {
		var err error
		words, err = r.transcribe(ctx, mediaPath)
		return err
	})
	if err != nil {
		return err
	}

	if plan.Has(model.StageDiarize) {
		return r.stage(ctx, model.StageDiarize, func(ctx context.Context) error {
			return r.diarize(ctx, mediaPath, words)
		})
	}
	return nil
}

// stage wraps fn with the cancellation check and the stage transitions
func (r *run) stage(ctx context.Context, stage model.Stage, fn func(context.Context) error) error {
	log := r.log.WithField("stage", stage)

	cancelled, err := r.deps.Sink.Cancelled(ctx, r.job.ID)
	if err != nil {
		return r.fail(ctx, stage, fmt.Errorf("check cancellation: %w", err))
	}
	if cancelled {
		before := r.tracker.Stages()
		n := r.tracker.Cancel(status.CancelledMessage)
		log.WithField("cancelled_stages", n).Info("Job cancelled before stage")
		r.persist(ctx)
		r.announceChanged(before)
		return ErrCancelled
	}

	before := r.tracker.Stages()
	if err := r.tracker.Begin(stage); err != nil {
		if errors.Is(err, status.ErrStageFailed) {
			log.Info("Stage already failed, stopping")
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return r.fail(ctx, stage, err)
	}

	// the stored record wins when the stage was cancelled after the flag check
	if err := r.deps.Sink.SaveStages(ctx, r.job.ID, r.tracker.Stages()); errors.Is(err, status.ErrStageFailed) {
		r.tracker = status.Restore(before).WithClock(r.now)
		n := r.tracker.Cancel(status.CancelledMessage)
		log.WithField("cancelled_stages", n).Info("Stage cancelled before it started")
		r.persist(ctx)
		r.announceChanged(before)
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	} else if err != nil {
		log.WithError(err).Warn("Failed to persist stage status")
	}
	r.announce(stage)
	log.Info("Stage started")

	started := r.now()
	if err := fn(ctx); err != nil {
		metrics.RecordStageDuration(string(stage), r.now().Sub(started).Seconds())
		return r.fail(ctx, stage, err)
	}
	metrics.RecordStageDuration(string(stage), r.now().Sub(started).Seconds())

	if err := r.tracker.Complete(stage); err != nil {
		return r.fail(ctx, stage, err)
	}
	r.transition(ctx, stage)
	log.WithField("duration", r.now().Sub(started).String()).Info("Stage completed")
	return nil
}

func (r *run) fail(ctx context.Context, stage model.Stage, err error) error {
	stageErr := &StageError{Stage: stage, Err: err}
	before := r.tracker.Stages()
	r.tracker.FailAll(stageErr.Error())
	r.log.WithFields(logrus.Fields{"stage": stage, "error": err}).Error("Stage failed")
	r.persist(ctx)
	r.announceChanged(before)
	return stageErr
}

// transition persists the stage records and notifies the listener.
// Persistence errors are logged; the stage outcome is decided by the collaborator.
func (r *run) transition(ctx context.Context, stage model.Stage) {
	r.persist(ctx)
	r.announce(stage)
}

// announceChanged notifies the listener of every stage whose state differs from before
func (r *run) announceChanged(before []model.StageStatus) {
	for i, st := range r.tracker.Stages() {
		if i < len(before) && before[i].Status == st.Status {
			continue
		}
		r.announce(st.Stage)
	}
}

func (r *run) announce(stage model.Stage) {
	current, err := r.tracker.Get(stage)
	if err != nil {
		return
	}
	metrics.RecordStageTransition(string(stage), string(current.Status))

	if r.deps.Listener == nil {
		return
	}
	r.deps.Listener.StageChanged(r.job.ID, current, r.tracker.JobStatus())
}

func (r *run) persist(ctx context.Context) {
	if err := r.deps.Sink.SaveStages(ctx, r.job.ID, r.tracker.Stages()); err != nil {
		r.log.WithError(err).Warn("Failed to persist stage status")
	}
}

func (r *run) acquire(ctx context.Context) (string, error) {
	if r.deps.Acquirer == nil {
		return "", errors.New("media acquirer not configured")
	}

	media, err := r.deps.Acquirer.Fetch(ctx, r.job.SourceURL)
	if err != nil {
		return "", err
	}
	if media.Path == "" {
		return "", errors.New("acquirer returned no media path")
	}

	r.job.MediaPath = media.Path
	r.job.MediaURL = media.URL
	if r.job.Title == "" {
		r.job.Title = media.Title
	}
	if err := r.deps.Sink.SaveMedia(ctx, r.job.ID, media); err != nil {
		return "", fmt.Errorf("save media: %w", err)
	}
	return media.Path, nil
}

func (r *run) transcribe(ctx context.Context, mediaPath string) ([]model.Word, error) {
	if mediaPath == "" {
		return nil, errors.New("no media to transcribe")
	}

	if r.deps.Prober != nil {
		r.probe(ctx, mediaPath)
	}

	opts := r.job.Options
	words, err := r.deps.Transcriber.Transcribe(ctx, mediaPath, TranscribeOptions{
		Model:     opts.Model,
		Language:  opts.Language,
		Hotwords:  opts.Hotwords,
		VADFilter: opts.VADFilter,
	})
	if err != nil {
		return nil, err
	}
	if err := model.ValidateWords(words); err != nil {
		return nil, err
	}

	if err := r.deps.Sink.SaveWords(ctx, r.job.ID, words); err != nil {
		return nil, fmt.Errorf("save words: %w", err)
	}
	if err := r.saveSegments(ctx, words); err != nil {
		return nil, err
	}
	return words, nil
}

// probe records the media duration. A probe failure does not fail the stage.
func (r *run) probe(ctx context.Context, mediaPath string) {
	d, err := r.deps.Prober.Duration(ctx, mediaPath)
	if err != nil {
		r.log.WithError(err).Warn("Failed to probe media duration")
		return
	}
	r.job.Duration = d
	media := Media{Path: mediaPath, Title: r.job.Title, URL: r.job.MediaURL, Duration: d}
	if err := r.deps.Sink.SaveMedia(ctx, r.job.ID, media); err != nil {
		r.log.WithError(err).Warn("Failed to save media duration")
	}
}

func (r *run) diarize(ctx context.Context, mediaPath string, words []model.Word) error {
	if r.deps.Diarizer == nil {
		return errors.New("diarizer not configured")
	}

	turns, err := r.deps.Diarizer.Diarize(ctx, mediaPath)
	if err != nil {
		return err
	}
	if err := model.ValidateTurns(turns); err != nil {
		return err
	}
	if err := r.deps.Sink.SaveTurns(ctx, r.job.ID, turns); err != nil {
		return fmt.Errorf("save turns: %w", err)
	}

	assigned := segment.AssignSpeakers(words, segment.ResolveOverlaps(turns))
	if err := r.deps.Sink.SaveWords(ctx, r.job.ID, assigned); err != nil {
		return fmt.Errorf("save words: %w", err)
	}
	return r.saveSegments(ctx, assigned)
}

func (r *run) saveSegments(ctx context.Context, words []model.Word) error {
	opts := r.job.Options
	segments := r.deps.Resegmenter.Resegment(words, opts.MaxChars, opts.MaxSeconds)

	description := Describe(segments)
	if err := r.deps.Sink.SaveSegments(ctx, r.job.ID, segments, description); err != nil {
		return fmt.Errorf("save segments: %w", err)
	}

	r.job.Description = description
	r.segments = segments
	metrics.RecordSegments(len(segments))
	r.log.WithField("segments", len(segments)).Debug("Segments saved")
	return nil
}

// Describe builds a short preview from the first segments of a transcript
func Describe(segments []model.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		if utf8.RuneCountInString(b.String()) >= descriptionMaxLength {
			break
		}
		b.WriteString(seg.Text)
		b.WriteString(" ")
	}

	runes := []rune(b.String())
	if len(runes) > descriptionMaxLength {
		runes = runes[:descriptionMaxLength]
	}
	return strings.TrimSpace(string(runes)) + "..."
}
