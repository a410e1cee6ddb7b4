package websocket

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptorium/api/internal/model"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	h := NewHub(log)
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHub_StageChanged(t *testing.T) {
	h := startHub(t)
	c := NewClient("job-1", nil)
	other := NewClient("job-2", nil)
	h.Register(c)
	h.Register(other)

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.StageChanged("job-1", model.StageStatus{
		Stage:     model.StageTranscribe,
		Status:    model.StateProcessing,
		StartedAt: &started,
	}, model.JobStatusRunning)

	var msg model.WSStageMessage
	require.NoError(t, json.Unmarshal(receive(t, c), &msg))
	assert.Equal(t, model.WSMessageTypeStage, msg.Type)
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, model.StageTranscribe, msg.Stage.Stage)
	assert.Equal(t, model.JobStatusRunning, msg.Status)
	assert.Equal(t, "Transcribing media...", msg.Step)

	assert.Empty(t, other.Send)
}

func TestHub_CompleteAndError(t *testing.T) {
	h := startHub(t)
	c := NewClient("job-1", nil)
	h.Register(c)

	h.BroadcastComplete("job-1", 12)
	var done model.WSCompleteMessage
	require.NoError(t, json.Unmarshal(receive(t, c), &done))
	assert.Equal(t, model.WSMessageTypeComplete, done.Type)
	assert.Equal(t, 12, done.Segments)

	h.BroadcastError("job-1", "STAGE_FAILED", "Downloading media failed: 404")
	var failed model.WSErrorMessage
	require.NoError(t, json.Unmarshal(receive(t, c), &failed))
	assert.Equal(t, "STAGE_FAILED", failed.Error.Code)
	assert.Equal(t, "Downloading media failed: 404", failed.Error.Message)
}

func TestHub_Unregister(t *testing.T) {
	h := startHub(t)
	c := NewClient("job-1", nil)
	h.Register(c)
	assert.Eventually(t, func() bool { return h.Subscribers("job-1") == 1 }, time.Second, 10*time.Millisecond)

	h.Unregister(c)
	assert.Eventually(t, func() bool { return h.Subscribers("job-1") == 0 }, time.Second, 10*time.Millisecond)

	_, ok := <-c.Send
	assert.False(t, ok)
}

func TestHub_DropsSlowConsumer(t *testing.T) {
	h := startHub(t)
	c := NewClient("job-1", nil)
	h.Register(c)

	for i := 0; i <= sendBuffer; i++ {
		h.BroadcastComplete("job-1", i)
	}
	assert.Eventually(t, func() bool { return h.Subscribers("job-1") == 0 }, time.Second, 10*time.Millisecond)
}
