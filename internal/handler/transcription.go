package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/scriptorium/api/internal/model"
	"github.com/scriptorium/api/internal/service"
	ws "github.com/scriptorium/api/internal/websocket"
	"github.com/scriptorium/api/pkg/response"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TranscriptionService is the job API the handlers drive
type TranscriptionService interface {
	Submit(ctx context.Context, req *model.TranscribeRequest) (*model.TranscribeStartResponse, error)
	SubmitUpload(ctx context.Context, settings model.TranscribeSettings, filename string, file io.Reader) (*model.TranscribeStartResponse, error)
	GetStatus(ctx context.Context, jobID string) (*model.TranscriptionStatusResponse, error)
	GetTranscript(ctx context.Context, jobID string, detailed bool) (*model.TranscriptResponse, error)
	List(ctx context.Context, offset, limit int) (*model.TranscriptionListResponse, error)
	Cancel(ctx context.Context, jobID string) (*model.TranscriptionCancelResponse, error)
	Update(ctx context.Context, jobID string, req *model.UpdateTranscriptionRequest) (*model.Job, error)
	Delete(ctx context.Context, jobID string) error
	RenameSpeaker(ctx context.Context, jobID, from, to string) (int, error)
	UpdateSegment(ctx context.Context, jobID string, index int, req *model.UpdateSegmentRequest) (*model.Segment, error)
	DeleteSegment(ctx context.Context, jobID string, index int) error
}

type TranscriptionHandler struct {
	service       TranscriptionService
	validator     *validator.Validate
	maxUploadSize int64
}

func NewTranscriptionHandler(svc TranscriptionService, v *validator.Validate, maxUploadSize int64) *TranscriptionHandler {
	return &TranscriptionHandler{
		service:       svc,
		validator:     v,
		maxUploadSize: maxUploadSize,
	}
}

// Create handles POST /api/transcriptions
func (h *TranscriptionHandler) Create(c *fiber.Ctx) error {
	var req model.TranscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Upload handles POST /api/transcriptions/upload
// The media goes in the "file" part; settings are plain form fields.
func (h *TranscriptionHandler) Upload(c *fiber.Ctx) error {
	var settings model.TranscribeSettings
	if err := c.BodyParser(&settings); err != nil {
		return response.ValidationError(c, "Invalid form data", nil)
	}
	if err := h.validator.Struct(&settings); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if h.maxUploadSize > 0 && file.Size > h.maxUploadSize {
		return response.TooLarge(c, fmt.Sprintf("File size exceeds %dMB limit", h.maxUploadSize/(1024*1024)))
	}

	contentType := file.Header.Get("Content-Type")
	if !isMediaType(contentType) {
		return response.ValidationError(c, "Invalid file type", map[string]interface{}{
			"contentType": contentType,
			"allowed":     "audio/*, video/*",
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to read upload")
	}
	defer f.Close()

	result, err := h.service.SubmitUpload(c.Context(), settings, file.Filename, f)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

func isMediaType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "video/") || ct == "application/octet-stream"
}

// List handles GET /api/transcriptions
func (h *TranscriptionHandler) List(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", defaultPageSize)
	if offset < 0 {
		return response.ValidationError(c, "offset must not be negative", nil)
	}
	if limit < 1 || limit > maxPageSize {
		return response.ValidationError(c, fmt.Sprintf("limit must be between 1 and %d", maxPageSize), nil)
	}

	result, err := h.service.List(c.Context(), offset, limit)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Get handles GET /api/transcriptions/:jobId
// ?detail=true adds the raw words and speaker turns.
func (h *TranscriptionHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.GetTranscript(c.Context(), c.Params("jobId"), c.QueryBool("detail", false))
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// Status handles GET /api/transcriptions/:jobId/status
func (h *TranscriptionHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.GetStatus(c.Context(), c.Params("jobId"))
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/transcriptions/:jobId/cancel
func (h *TranscriptionHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.Context(), c.Params("jobId"))
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// Update handles PATCH /api/transcriptions/:jobId
func (h *TranscriptionHandler) Update(c *fiber.Ctx) error {
	var req model.UpdateTranscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.service.Update(c.Context(), c.Params("jobId"), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, fiber.Map{
		"id":    job.ID,
		"title": job.Title,
		"notes": job.Notes,
	})
}

// Delete handles DELETE /api/transcriptions/:jobId
func (h *TranscriptionHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("jobId")); err != nil {
		return serviceError(c, err)
	}

	return response.NoContent(c)
}

// RenameSpeaker handles POST /api/transcriptions/:jobId/speakers/rename
func (h *TranscriptionHandler) RenameSpeaker(c *fiber.Ctx) error {
	var req model.RenameSpeakerRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	renamed, err := h.service.RenameSpeaker(c.Context(), c.Params("jobId"), req.From, req.To)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, fiber.Map{"success": true, "renamed": renamed})
}

// UpdateSegment handles PATCH /api/transcriptions/:jobId/segments/:index
func (h *TranscriptionHandler) UpdateSegment(c *fiber.Ctx) error {
	index, err := c.ParamsInt("index")
	if err != nil {
		return response.ValidationError(c, "Segment index must be a number", nil)
	}

	var req model.UpdateSegmentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	segment, err := h.service.UpdateSegment(c.Context(), c.Params("jobId"), index, &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, segment)
}

// DeleteSegment handles DELETE /api/transcriptions/:jobId/segments/:index
func (h *TranscriptionHandler) DeleteSegment(c *fiber.Ctx) error {
	index, err := c.ParamsInt("index")
	if err != nil {
		return response.ValidationError(c, "Segment index must be a number", nil)
	}

	if err := h.service.DeleteSegment(c.Context(), c.Params("jobId"), index); err != nil {
		return serviceError(c, err)
	}

	return response.NoContent(c)
}

// Subscribe checks the job exists before a websocket upgrade and stashes
// its current stage so the socket starts with a snapshot
func (h *TranscriptionHandler) Subscribe(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	status, err := h.service.GetStatus(c.Context(), c.Params("jobId"))
	if err != nil {
		return serviceError(c, err)
	}

	if status.Current != nil {
		snapshot, err := json.Marshal(model.WSStageMessage{
			Type:   model.WSMessageTypeStage,
			JobID:  status.JobID,
			Stage:  *status.Current,
			Status: status.Status,
		})
		if err == nil {
			c.Locals("snapshot", snapshot)
		}
	}
	return c.Next()
}

// Stream handles GET /ws/jobs/:jobId once Subscribe let the upgrade through
func Stream(hub *ws.Hub) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		snapshot, _ := c.Locals("snapshot").([]byte)
		hub.HandleConnection(c, c.Params("jobId"), snapshot)
	})
}

// serviceError maps service sentinels onto API errors
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrSegmentNotFound):
		return response.NotFound(c, "Segment not found")
	case errors.Is(err, service.ErrSpeakerNotFound):
		return response.NotFound(c, "Speaker not found")
	case errors.Is(err, service.ErrNothingToCancel):
		return response.Conflict(c, "Job has no pending stage to cancel")
	case errors.Is(err, service.ErrJobInProgress):
		return response.Conflict(c, "Job is still in progress")
	default:
		return response.ServiceError(c, err.Error())
	}
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return err.Error()
}
