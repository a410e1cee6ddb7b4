package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/scriptorium/api/internal/handler"
	"github.com/scriptorium/api/internal/middleware"
	"github.com/scriptorium/api/internal/model"
	"github.com/scriptorium/api/internal/pipeline"
	"github.com/scriptorium/api/internal/segment"
	"github.com/scriptorium/api/internal/service"
	ws "github.com/scriptorium/api/internal/websocket"
	"github.com/scriptorium/api/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

type stubAcquirer struct{ err error }

func (s *stubAcquirer) Fetch(ctx context.Context, locator string) (pipeline.Media, error) {
	if s.err != nil {
		return pipeline.Media{}, s.err
	}
	return pipeline.Media{Path: "/media/standup.mp4", Title: "Standup"}, nil
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(ctx context.Context, path string, opts pipeline.TranscribeOptions) ([]model.Word, error) {
	return []model.Word{
		{Start: 0.0, End: 0.5, Text: " Morning", Confidence: 0.9},
		{Start: 0.5, End: 1.0, Text: " everyone.", Confidence: 0.9},
		{Start: 1.2, End: 1.6, Text: " Hi", Confidence: 0.8},
		{Start: 1.6, End: 2.0, Text: " there.", Confidence: 0.8},
	}, nil
}

type stubDiarizer struct{}

func (stubDiarizer) Diarize(ctx context.Context, path string) ([]model.SpeakerTurn, error) {
	return []model.SpeakerTurn{
		{Start: 0.0, End: 1.1, Speaker: "SPEAKER_00"},
		{Start: 1.1, End: 2.5, Speaker: "SPEAKER_01"},
	}, nil
}

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	worker   *worker.TranscribeWorker
	acquirer *stubAcquirer
	token    string
}

// setupApp wires the API like main.go, with in-process stand-ins for
// yt-dlp and the model services. Redis must be running on localhost.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// use DB 15 for tests to avoid collision
	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	require.NoError(t, redisClient.FlushDB(context.Background()).Err())
	t.Cleanup(func() {
		redisClient.FlushDB(context.Background())
		redisClient.Close()
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15})
	t.Cleanup(func() { asynqClient.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	hub := ws.NewHub(log)
	go hub.Run()
	t.Cleanup(hub.Stop)

	svc := service.NewTranscriptionService(redisClient, asynqClient, nil, t.TempDir(), true)
	acquirer := &stubAcquirer{}
	orchestrator := pipeline.NewOrchestrator(pipeline.Dependencies{
		Acquirer:    acquirer,
		Transcriber: stubTranscriber{},
		Diarizer:    stubDiarizer{},
		Sink:        svc.Sink(),
		Listener:    hub,
		Resegmenter: segment.NewResegmenter(segment.Limits{MaxChars: 120, MaxSeconds: 10}),
		Logger:      log,
	})

	h := handler.NewTranscriptionHandler(svc, handler.NewValidator(), 10*1024*1024)
	auth := middleware.NewAuthMiddleware(testJWTSecret, time.Hour)
	limiter := middleware.NewRateLimiter(redisClient, log)

	app := fiber.New()
	api := app.Group("/api", auth.Authenticate())
	r := api.Group("/transcriptions")
	// Use very high rate limits so tests don't get blocked
	r.Post("/", limiter.TranscribeLimit(10000), h.Create)
	r.Get("/", h.List)
	r.Get("/:jobId", h.Get)
	r.Delete("/:jobId", h.Delete)
	r.Get("/:jobId/status", h.Status)
	r.Post("/:jobId/cancel", h.Cancel)
	r.Post("/:jobId/speakers/rename", h.RenameSpeaker)

	token, err := auth.GenerateToken("user-e2e", "e2e@example.com")
	require.NoError(t, err)

	return &testApp{
		app:      app,
		worker:   worker.NewTranscribeWorker(svc, orchestrator, hub, log),
		acquirer: acquirer,
		token:    token,
	}
}

// runJob processes the queued task for jobID in-process
func (ta *testApp) runJob(t *testing.T, jobID string) error {
	t.Helper()
	data, err := json.Marshal(model.TranscribeJobPayload{JobID: jobID})
	require.NoError(t, err)
	return ta.worker.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeTranscribe, data))
}

func (ta *testApp) doRequest(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	return ta.do(t, method, path, body, "Bearer "+ta.token)
}

func (ta *testApp) do(t *testing.T, method, path string, body interface{}, authorization string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := ta.app.Test(req, 10000)
	require.NoError(t, err)
	return resp
}

func parseJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, body)
	}
}
