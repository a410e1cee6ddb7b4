package response

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		handler fiber.Handler
		status  int
		code    string
	}{
		{"validation", func(c *fiber.Ctx) error {
			return ValidationError(c, "Validation failed", map[string]string{"sourceUrl": "required"})
		}, 400, CodeValidationError},
		{"unauthorized", func(c *fiber.Ctx) error { return Unauthorized(c, "Missing token") }, 401, CodeUnauthorized},
		{"not found", func(c *fiber.Ctx) error { return NotFound(c, "Job not found") }, 404, CodeNotFound},
		{"conflict", func(c *fiber.Ctx) error { return Conflict(c, "Job still running") }, 409, CodeConflict},
		{"too large", func(c *fiber.Ctx) error { return TooLarge(c, "File too large") }, 413, CodeTooLarge},
		{"rate limited", func(c *fiber.Ctx) error { return RateLimited(c) }, 429, CodeRateLimited},
		{"service", func(c *fiber.Ctx) error { return ServiceError(c, "boom") }, 500, CodeServiceError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", tt.handler)

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestNoContent(t *testing.T) {
	app := fiber.New()
	app.Delete("/", NoContent)

	resp, err := app.Test(httptest.NewRequest("DELETE", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
