package client

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/scriptorium/api/internal/config"
	"github.com/scriptorium/api/internal/model"
)

// WAVExtractor converts media to the PCM WAV the diarizer expects
type WAVExtractor interface {
	ExtractWAV(ctx context.Context, input string) (string, error)
}

// DiarizerClient calls the speaker diarization microservice
type DiarizerClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	extractor  WAVExtractor
}

// DiarizeResponse represents the response from the diarizer service
type DiarizeResponse struct {
	Turns []model.SpeakerTurn `json:"turns"`
}

// NewDiarizerClient creates a new diarizer client
func NewDiarizerClient(cfg *config.DiarizerConfig, extractor WAVExtractor) *DiarizerClient {
	return &DiarizerClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL:   cfg.ServiceURL,
		token:     cfg.Token,
		extractor: extractor,
	}
}

// Diarize converts the media to WAV, uploads it and returns the raw speaker turns
func (c *DiarizerClient) Diarize(ctx context.Context, mediaPath string) ([]model.SpeakerTurn, error) {
	wav, err := c.extractor.ExtractWAV(ctx, mediaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to convert media: %w", err)
	}
	defer os.Remove(wav)

	var result DiarizeResponse
	if err := postFile(ctx, c.httpClient, c.baseURL+"/diarize", c.token, wav, nil, &result); err != nil {
		return nil, err
	}
	if result.Turns == nil {
		return []model.SpeakerTurn{}, nil
	}
	return result.Turns, nil
}

// HealthCheck checks if the diarizer service is available
func (c *DiarizerClient) HealthCheck(ctx context.Context) error {
	return healthCheck(ctx, c.httpClient, c.baseURL)
}

// IsConfigured returns true if the client has valid configuration
func (c *DiarizerClient) IsConfigured() bool {
	return c.baseURL != ""
}
