package handler

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptorium/api/internal/version"
)

func TestHealth(t *testing.T) {
	v := version.NewCache(func() (string, error) { return "1.4.2", nil })

	tests := []struct {
		name   string
		ping   PingFunc
		status int
		state  string
	}{
		{"healthy", func(ctx context.Context) error { return nil }, fiber.StatusOK, "ok"},
		{"redis down", func(ctx context.Context) error { return errors.New("refused") }, fiber.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(v, tt.ping, map[string]bool{"diarizer": false, "transcriber": true})
			app := fiber.New()
			app.Get("/health", h.Health)

			resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body struct {
				Status   string          `json:"status"`
				Version  string          `json:"version"`
				Services map[string]bool `json:"services"`
			}
			parseJSON(t, resp, &body)
			assert.Equal(t, tt.state, body.Status)
			assert.Equal(t, "1.4.2", body.Version)
			assert.True(t, body.Services["transcriber"])
			assert.False(t, body.Services["diarizer"])
		})
	}
}
