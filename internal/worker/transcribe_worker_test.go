package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptorium/api/internal/model"
	"github.com/scriptorium/api/internal/pipeline"
	"github.com/scriptorium/api/internal/service"
)

type fakeLoader struct {
	jobs map[string]*model.Job
}

func (l *fakeLoader) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, ok := l.jobs[jobID]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	return job, nil
}

type fakeRunner struct {
	result pipeline.Result
	err    error
	ran    []string
}

func (r *fakeRunner) Run(ctx context.Context, job *model.Job) (pipeline.Result, error) {
	r.ran = append(r.ran, job.ID)
	return r.result, r.err
}

type notification struct {
	kind     string
	code     string
	message  string
	segments int
}

type fakeNotifier struct {
	sent []notification
}

func (n *fakeNotifier) BroadcastComplete(jobID string, segments int) {
	n.sent = append(n.sent, notification{kind: "complete", segments: segments})
}

func (n *fakeNotifier) BroadcastError(jobID string, code, message string) {
	n.sent = append(n.sent, notification{kind: "error", code: code, message: message})
}

func newTask(t *testing.T, jobID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(model.TranscribeJobPayload{JobID: jobID})
	require.NoError(t, err)
	return asynq.NewTask(service.TaskTypeTranscribe, data)
}

func newWorker(runner *fakeRunner, notifier *fakeNotifier) *TranscribeWorker {
	log := logrus.New()
	log.SetOutput(io.Discard)
	loader := &fakeLoader{jobs: map[string]*model.Job{"job-1": {ID: "job-1"}}}
	return NewTranscribeWorker(loader, runner, notifier, log)
}

func TestProcessTask_Completes(t *testing.T) {
	runner := &fakeRunner{result: pipeline.Result{
		Status:   model.JobStatusSucceeded,
		Segments: []model.Segment{{Text: "a"}, {Text: "b"}},
	}}
	notifier := &fakeNotifier{}

	err := newWorker(runner, notifier).ProcessTask(context.Background(), newTask(t, "job-1"))
	require.NoError(t, err)

	assert.Equal(t, []string{"job-1"}, runner.ran)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notification{kind: "complete", segments: 2}, notifier.sent[0])
}

func TestProcessTask_StageFailureIsNotRetried(t *testing.T) {
	stageErr := &pipeline.StageError{Stage: model.StageAcquire, Err: errors.New("404")}
	runner := &fakeRunner{err: stageErr}
	notifier := &fakeNotifier{}

	err := newWorker(runner, notifier).ProcessTask(context.Background(), newTask(t, "job-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "STAGE_FAILED", notifier.sent[0].code)
	assert.Equal(t, "Downloading media failed: 404", notifier.sent[0].message)
}

func TestProcessTask_Cancelled(t *testing.T) {
	runner := &fakeRunner{err: pipeline.ErrCancelled}
	notifier := &fakeNotifier{}

	err := newWorker(runner, notifier).ProcessTask(context.Background(), newTask(t, "job-1"))
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "CANCELLED", notifier.sent[0].code)
}

func TestProcessTask_DeletedJob(t *testing.T) {
	runner := &fakeRunner{}
	notifier := &fakeNotifier{}

	err := newWorker(runner, notifier).ProcessTask(context.Background(), newTask(t, "gone"))
	require.NoError(t, err)
	assert.Empty(t, runner.ran)
	assert.Empty(t, notifier.sent)
}

func TestProcessTask_BadPayload(t *testing.T) {
	runner := &fakeRunner{}
	notifier := &fakeNotifier{}

	task := asynq.NewTask(service.TaskTypeTranscribe, []byte("not json"))
	err := newWorker(runner, notifier).ProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, runner.ran)
}
