package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const deepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient calls DeepInfra's native inference API for Whisper models.
// Implements Engine.
type DeepInfraClient struct {
	baseURL string
	apiKey  string
	model   string // e.g. "openai/whisper-large-v3-turbo"
	client  *http.Client
}

// deepInfraResponse is the JSON response from the DeepInfra inference API.
type deepInfraResponse struct {
	Text     string       `json:"text"`
	Language string       `json:"language"`
	Segments []RawSegment `json:"segments"`
}

// NewDeepInfraClient creates a new DeepInfra inference client. An empty
// baseURL selects the public API.
func NewDeepInfraClient(baseURL, apiKey, model string, timeout time.Duration) *DeepInfraClient {
	if baseURL == "" {
		baseURL = deepInfraBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &DeepInfraClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (di *DeepInfraClient) Name() string  { return "deepinfra" }
func (di *DeepInfraClient) Model() string { return di.model }

func (di *DeepInfraClient) Close() error {
	di.client.CloseIdleConnections()
	return nil
}

// Transcribe posts the media to {baseURL}{model}. DeepInfra takes the media
// under the "audio" field, not "file".
func (di *DeepInfraClient) Transcribe(ctx context.Context, mediaPath string, req Request) ([]RawSegment, error) {
	var fields []formField
	if req.Language != "" {
		fields = append(fields, formField{"language", req.Language})
	}
	if req.Temperature > 0 {
		fields = append(fields, formField{"temperature", fmt.Sprintf("%.2f", req.Temperature)})
	}

	body, err := postMedia(ctx, di.client, "deepinfra", di.baseURL+di.model, di.apiKey, "audio", mediaPath, fields)
	if err != nil {
		return nil, err
	}

	var result deepInfraResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Segments, nil
}
