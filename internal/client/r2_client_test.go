package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptorium/api/internal/config"
)

func TestNewR2Client_IncompleteConfig(t *testing.T) {
	_, err := NewR2Client(&config.R2Config{BucketName: "media"})
	assert.Error(t, err)
}

func TestR2Client_URLs(t *testing.T) {
	c := &R2Client{bucketName: "media", publicURL: "https://cdn.example.com"}

	url := c.GetPublicURL("media/talk.mp4")
	assert.Equal(t, "https://cdn.example.com/media/talk.mp4", url)

	key, ok := c.KeyFromURL(url)
	assert.True(t, ok)
	assert.Equal(t, "media/talk.mp4", key)

	_, ok = c.KeyFromURL("https://elsewhere.example.com/media/talk.mp4")
	assert.False(t, ok)

	bare := &R2Client{bucketName: "media"}
	assert.Equal(t, "https://media.r2.cloudflarestorage.com/k", bare.GetPublicURL("k"))
}

func TestR2Client_UploadDelete(t *testing.T) {
	var (
		mu      sync.Mutex
		objects = map[string][]byte{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(objects, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer server.Close()

	cfg := &config.R2Config{
		AccountID:       "acct",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		BucketName:      "media",
		PublicURL:       "https://cdn.example.com/",
	}
	c, err := newR2Client(cfg, server.URL, true)
	require.NoError(t, err)
	assert.True(t, c.IsConfigured())

	url, err := c.Upload(context.Background(), "media/talk.mp4", bytes.NewReader([]byte("video")), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/media/talk.mp4", url)

	mu.Lock()
	assert.Equal(t, []byte("video"), objects["/media/media/talk.mp4"])
	mu.Unlock()

	require.NoError(t, c.Delete(context.Background(), "media/talk.mp4"))
	mu.Lock()
	assert.NotContains(t, objects, "/media/media/talk.mp4")
	mu.Unlock()
}
