package handler

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// NewValidator returns a validator that reports JSON field names
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Pinger is anything whose liveness can be checked
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// VersionSource reports the running build
type VersionSource interface {
	Get() (string, error)
}

type HealthHandler struct {
	version  VersionSource
	redis    Pinger
	services map[string]bool
}

// NewHealthHandler creates the health endpoint. services lists optional
// collaborators and whether they are configured.
func NewHealthHandler(version VersionSource, redis Pinger, services map[string]bool) *HealthHandler {
	return &HealthHandler{version: version, redis: redis, services: services}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	version, err := h.version.Get()
	if err != nil {
		version = "unknown"
	}

	status := "ok"
	code := fiber.StatusOK
	redisUp := true
	if h.redis != nil {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		if err := h.redis.Ping(ctx); err != nil {
			status = "degraded"
			code = fiber.StatusServiceUnavailable
			redisUp = false
		}
	}

	services := fiber.Map{"redis": redisUp}
	for name, ok := range h.services {
		services[name] = ok
	}

	return c.Status(code).JSON(fiber.Map{
		"status":   status,
		"version":  version,
		"services": services,
	})
}
