package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/scriptorium/api/internal/client"
	"github.com/scriptorium/api/internal/model"
	"github.com/scriptorium/api/internal/status"
)

const (
	TaskTypeTranscribe = "transcribe:process"
	QueueTranscribe    = "transcribe"

	jobIndexKey  = "jobs"
	jobRetention = 30 * 24 * time.Hour
	maxTxRetries = 5
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrNothingToCancel  = errors.New("no pending stage to cancel")
	ErrJobInProgress    = errors.New("job still in progress")
	ErrSpeakerNotFound  = errors.New("speaker not found")
	ErrSegmentNotFound  = errors.New("segment not found")
	ErrTooManyConflicts = errors.New("too many concurrent updates")
)

// Enqueuer is the subset of *asynq.Client the service needs
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TranscriptionService manages transcription jobs stored in Redis
type TranscriptionService struct {
	redis             *redis.Client
	queue             Enqueuer
	storage           client.StorageClient
	mediaDir          string
	diarizerAvailable bool
}

// NewTranscriptionService creates the service. storage may be nil when media
// archiving is disabled.
func NewTranscriptionService(redisClient *redis.Client, queue Enqueuer, storage client.StorageClient, mediaDir string, diarizerAvailable bool) *TranscriptionService {
	return &TranscriptionService{
		redis:             redisClient,
		queue:             queue,
		storage:           storage,
		mediaDir:          mediaDir,
		diarizerAvailable: diarizerAvailable,
	}
}

// DiarizerAvailable reports whether diarization stages are scheduled
func (s *TranscriptionService) DiarizerAvailable() bool {
	return s.diarizerAvailable
}

// Submit queues a transcription of remote media
func (s *TranscriptionService) Submit(ctx context.Context, req *model.TranscribeRequest) (*model.TranscribeStartResponse, error) {
	job := s.newJob(req.TranscribeSettings, true)
	job.SourceURL = req.SourceURL
	return s.enqueue(ctx, job)
}

// SubmitUpload stores uploaded media locally and queues its transcription
func (s *TranscriptionService) SubmitUpload(ctx context.Context, settings model.TranscribeSettings, filename string, file io.Reader) (*model.TranscribeStartResponse, error) {
	job := s.newJob(settings, false)
	if job.Title == "" {
		job.Title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}

	path, err := s.storeUpload(job.ID, filename, file)
	if err != nil {
		return nil, err
	}
	job.MediaPath = path

	if s.storage != nil {
		if url, err := s.archive(ctx, path); err == nil {
			job.MediaURL = url
		}
	}

	return s.enqueue(ctx, job)
}

func (s *TranscriptionService) newJob(settings model.TranscribeSettings, acquire bool) *model.Job {
	opts := settings.Options()
	plan := model.NewPlan(acquire, opts.Diarize && s.diarizerAvailable)
	return &model.Job{
		ID:        uuid.New().String(),
		Title:     settings.Title,
		Options:   opts,
		Stages:    status.NewTracker(plan).Stages(),
		CreatedAt: time.Now(),
	}
}

func (s *TranscriptionService) enqueue(ctx context.Context, job *model.Job) (*model.TranscribeStartResponse, error) {
	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	if err := s.redis.ZAdd(ctx, jobIndexKey, redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.ID}).Err(); err != nil {
		return nil, fmt.Errorf("failed to index job: %w", err)
	}

	task, err := newTranscribeTask(job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	// failed jobs stay failed until resubmitted
	_, err = s.queue.Enqueue(task,
		asynq.Queue(QueueTranscribe),
		asynq.MaxRetry(0),
		asynq.Timeout(6*time.Hour),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.TranscribeStartResponse{
		JobID:     job.ID,
		Status:    model.JobStatusQueued,
		Stages:    job.Plan(),
		CreatedAt: job.CreatedAt,
	}, nil
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (s *TranscriptionService) storeUpload(jobID, filename string, file io.Reader) (string, error) {
	if err := os.MkdirAll(s.mediaDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create media dir: %w", err)
	}

	name := unsafeFilename.ReplaceAllString(filepath.Base(filename), "_")
	path := filepath.Join(s.mediaDir, jobID[:8]+"_"+name)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create media file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	return path, nil
}

func (s *TranscriptionService) archive(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.storage.Upload(ctx, "media/"+filepath.Base(path), f, contentType)
}

// GetJob returns the stored job record
func (s *TranscriptionService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.getJob(ctx, jobID)
}

// GetStatus returns the stage records and the stage a caller should be shown
func (s *TranscriptionService) GetStatus(ctx context.Context, jobID string) (*model.TranscriptionStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	tracker := status.Restore(job.Stages)
	resp := &model.TranscriptionStatusResponse{
		JobID:     job.ID,
		Title:     job.Title,
		Status:    tracker.JobStatus(),
		Stages:    tracker.Stages(),
		CreatedAt: job.CreatedAt,
	}
	if cur, ok := tracker.Current(); ok {
		resp.Current = &cur
	}
	return resp, nil
}

// GetTranscript returns the segments of a job, and the raw words and turns when detailed
func (s *TranscriptionService) GetTranscript(ctx context.Context, jobID string, detailed bool) (*model.TranscriptResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	segments := make([]model.Segment, 0)
	if err := s.getList(ctx, segmentsKey(jobID), &segments); err != nil {
		return nil, err
	}

	resp := &model.TranscriptResponse{
		ID:          job.ID,
		Title:       job.Title,
		Description: job.Description,
		Notes:       job.Notes,
		MediaURL:    job.MediaURL,
		Speakers:    speakersOf(segments),
		Segments:    segments,
		CreatedAt:   job.CreatedAt,
	}

	if detailed {
		if err := s.getList(ctx, wordsKey(jobID), &resp.Words); err != nil {
			return nil, err
		}
		if err := s.getList(ctx, turnsKey(jobID), &resp.Turns); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// List returns a page of jobs, newest first
func (s *TranscriptionService) List(ctx context.Context, offset, limit int) (*model.TranscriptionListResponse, error) {
	total, err := s.redis.ZCard(ctx, jobIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	ids, err := s.redis.ZRevRange(ctx, jobIndexKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	items := make([]model.TranscriptionSummary, 0, len(ids))
	for _, id := range ids {
		job, err := s.getJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			// expired record, drop the stale index entry
			s.redis.ZRem(ctx, jobIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, model.TranscriptionSummary{
			ID:          job.ID,
			Title:       job.Title,
			Description: job.Description,
			Status:      status.Summarize(job.Stages),
			CreatedAt:   job.CreatedAt,
		})
	}

	return &model.TranscriptionListResponse{Items: items, Total: total, Offset: offset, Limit: limit}, nil
}

// Cancel fails every pending stage and flags the job so the worker stops
// before its next stage. A stage that is already processing runs to the end.
func (s *TranscriptionService) Cancel(ctx context.Context, jobID string) (*model.TranscriptionCancelResponse, error) {
	var (
		cancelled int
		jobStatus model.JobStatus
	)
	err := s.updateJob(ctx, jobID, func(job *model.Job) error {
		tracker := status.Restore(job.Stages)
		cancelled = tracker.Cancel(status.CancelledMessage)
		if cancelled == 0 {
			return ErrNothingToCancel
		}
		job.Stages = tracker.Stages()
		jobStatus = tracker.JobStatus()
		return nil
	}, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, cancelKey(jobID), "1", jobRetention)
	})
	if err != nil {
		return nil, err
	}

	return &model.TranscriptionCancelResponse{
		Success:   true,
		JobID:     jobID,
		Status:    jobStatus,
		Cancelled: cancelled,
	}, nil
}

// RenameSpeaker relabels every segment and word attributed to from
func (s *TranscriptionService) RenameSpeaker(ctx context.Context, jobID, from, to string) (int, error) {
	if err := s.requireDone(ctx, jobID); err != nil {
		return 0, err
	}

	segments := make([]model.Segment, 0)
	if err := s.getList(ctx, segmentsKey(jobID), &segments); err != nil {
		return 0, err
	}
	renamed := 0
	for i := range segments {
		if segments[i].Speaker == from {
			segments[i].Speaker = to
			renamed++
		}
	}
	if renamed == 0 {
		return 0, ErrSpeakerNotFound
	}

	words := make([]model.Word, 0)
	if err := s.getList(ctx, wordsKey(jobID), &words); err != nil {
		return 0, err
	}
	for i := range words {
		if words[i].Speaker == from {
			words[i].Speaker = to
		}
	}

	if err := s.setList(ctx, segmentsKey(jobID), segments); err != nil {
		return 0, err
	}
	if err := s.setList(ctx, wordsKey(jobID), words); err != nil {
		return 0, err
	}
	return renamed, nil
}

// UpdateSegment edits the text or speaker of the segment at index
func (s *TranscriptionService) UpdateSegment(ctx context.Context, jobID string, index int, req *model.UpdateSegmentRequest) (*model.Segment, error) {
	if err := s.requireDone(ctx, jobID); err != nil {
		return nil, err
	}

	segments := make([]model.Segment, 0)
	if err := s.getList(ctx, segmentsKey(jobID), &segments); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(segments) {
		return nil, ErrSegmentNotFound
	}

	if req.Text != nil {
		segments[index].Text = strings.TrimSpace(*req.Text)
	}
	if req.Speaker != nil {
		segments[index].Speaker = *req.Speaker
	}
	if err := s.setList(ctx, segmentsKey(jobID), segments); err != nil {
		return nil, err
	}
	return &segments[index], nil
}

// DeleteSegment removes the segment at index
func (s *TranscriptionService) DeleteSegment(ctx context.Context, jobID string, index int) error {
	if err := s.requireDone(ctx, jobID); err != nil {
		return err
	}

	segments := make([]model.Segment, 0)
	if err := s.getList(ctx, segmentsKey(jobID), &segments); err != nil {
		return err
	}
	if index < 0 || index >= len(segments) {
		return ErrSegmentNotFound
	}

	segments = append(segments[:index], segments[index+1:]...)
	return s.setList(ctx, segmentsKey(jobID), segments)
}

// Update edits the title and notes of a job
func (s *TranscriptionService) Update(ctx context.Context, jobID string, req *model.UpdateTranscriptionRequest) (*model.Job, error) {
	var updated *model.Job
	err := s.updateJob(ctx, jobID, func(job *model.Job) error {
		if req.Title != nil {
			job.Title = strings.TrimSpace(*req.Title)
		}
		if req.Notes != nil {
			job.Notes = *req.Notes
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a job, its transcript and its media. A running worker
// notices the cancellation flag before its next stage.
func (s *TranscriptionService) Delete(ctx context.Context, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, jobKey(jobID), wordsKey(jobID), turnsKey(jobID), segmentsKey(jobID))
	pipe.Set(ctx, cancelKey(jobID), "1", 24*time.Hour)
	pipe.ZRem(ctx, jobIndexKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	if job.MediaPath != "" && s.ownsMedia(job.MediaPath) {
		_ = os.Remove(job.MediaPath)
	}
	if job.MediaURL != "" && s.storage != nil {
		if key, ok := s.storage.KeyFromURL(job.MediaURL); ok {
			if err := s.storage.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to delete archived media: %w", err)
			}
		}
	}
	return nil
}

func (s *TranscriptionService) ownsMedia(path string) bool {
	dir, err := filepath.Abs(s.mediaDir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(abs, dir+string(filepath.Separator))
}

func (s *TranscriptionService) requireDone(ctx context.Context, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !status.Restore(job.Stages).Done() {
		return ErrJobInProgress
	}
	return nil
}

func speakersOf(segments []model.Segment) []string {
	seen := make(map[string]bool)
	speakers := make([]string, 0)
	for _, seg := range segments {
		if seg.Speaker == "" || seen[seg.Speaker] {
			continue
		}
		seen[seg.Speaker] = true
		speakers = append(speakers, seg.Speaker)
	}
	return speakers
}

// Helper methods

func jobKey(jobID string) string      { return fmt.Sprintf("job:%s", jobID) }
func wordsKey(jobID string) string    { return fmt.Sprintf("job:%s:words", jobID) }
func turnsKey(jobID string) string    { return fmt.Sprintf("job:%s:turns", jobID) }
func segmentsKey(jobID string) string { return fmt.Sprintf("job:%s:segments", jobID) }
func cancelKey(jobID string) string   { return fmt.Sprintf("job:%s:cancel", jobID) }

func (s *TranscriptionService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobRetention).Err()
}

func (s *TranscriptionService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

// updateJob applies fn to the stored job inside an optimistic transaction so
// API edits and worker writes to the same record never overwrite each other.
// Each of also queues extra writes into the same MULTI, so they land only if
// the job still exists and nobody changed it in between.
func (s *TranscriptionService) updateJob(ctx context.Context, jobID string, fn func(job *model.Job) error, also ...func(pipe redis.Pipeliner)) error {
	key := jobKey(jobID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}

		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		if err := fn(&job); err != nil {
			return err
		}

		updated, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, jobRetention)
			for _, queue := range also {
				queue(pipe)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return ErrTooManyConflicts
}

func (s *TranscriptionService) setList(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, jobRetention).Err()
}

// getList decodes a stored list into v, leaving v untouched when nothing is stored yet
func (s *TranscriptionService) getList(ctx context.Context, key string, v interface{}) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func newTranscribeTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(model.TranscribeJobPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeTranscribe, data), nil
}
