package client

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/scriptorium/api/internal/config"
	"github.com/scriptorium/api/internal/model"
	"github.com/scriptorium/api/internal/pipeline"
)

// TranscriberClient calls the speech-to-text microservice
type TranscriberClient struct {
	httpClient   *http.Client
	baseURL      string
	defaultModel string
}

type transcribeWord struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Word        string  `json:"word"`
	Probability float64 `json:"probability"`
}

type transcribeSegment struct {
	Start float64          `json:"start"`
	End   float64          `json:"end"`
	Text  string           `json:"text"`
	Words []transcribeWord `json:"words"`
}

// TranscribeResponse represents the response from the transcriber service
type TranscribeResponse struct {
	Language string              `json:"language"`
	Duration float64             `json:"duration"`
	Segments []transcribeSegment `json:"segments"`
}

// NewTranscriberClient creates a new transcriber client
func NewTranscriberClient(cfg *config.TranscriberConfig) *TranscriberClient {
	return &TranscriberClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL:      cfg.ServiceURL,
		defaultModel: cfg.Model,
	}
}

// Transcribe uploads the media and flattens the returned segments into words.
// Speakers are left empty.
func (c *TranscriberClient) Transcribe(ctx context.Context, mediaPath string, opts pipeline.TranscribeOptions) ([]model.Word, error) {
	modelName := opts.Model
	if modelName == "" {
		modelName = c.defaultModel
	}

	fields := map[string]string{
		"model":           modelName,
		"vad_filter":      strconv.FormatBool(opts.VADFilter),
		"word_timestamps": "true",
	}
	if opts.Language != "" {
		fields["language"] = opts.Language
	}
	if opts.Hotwords != "" {
		fields["hotwords"] = opts.Hotwords
	}

	var result TranscribeResponse
	if err := postFile(ctx, c.httpClient, c.baseURL+"/transcribe", "", mediaPath, fields, &result); err != nil {
		return nil, err
	}

	words := make([]model.Word, 0)
	for _, seg := range result.Segments {
		for _, w := range seg.Words {
			words = append(words, model.Word{
				Start:      w.Start,
				End:        w.End,
				Text:       w.Word,
				Confidence: w.Probability,
			})
		}
	}
	return words, nil
}

// HealthCheck checks if the transcriber service is available
func (c *TranscriberClient) HealthCheck(ctx context.Context) error {
	return healthCheck(ctx, c.httpClient, c.baseURL)
}

// IsConfigured returns true if the client has valid configuration
func (c *TranscriberClient) IsConfigured() bool {
	return c.baseURL != ""
}
