package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const defaultWhisperURL = "http://localhost:9000/v1/audio/transcriptions"

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint
// (faster-whisper-server, speaches, whisper.cpp server). Implements Engine.
type WhisperClient struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// whisperResponse is the verbose_json response body.
type whisperResponse struct {
	Text     string       `json:"text"`
	Language string       `json:"language"`
	Duration float64      `json:"duration"`
	Segments []RawSegment `json:"segments"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url, apiKey, model string, timeout time.Duration) *WhisperClient {
	if url == "" {
		url = defaultWhisperURL
	}
	return &WhisperClient{
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (wc *WhisperClient) Name() string  { return "whisper" }
func (wc *WhisperClient) Model() string { return wc.model }

func (wc *WhisperClient) Close() error {
	wc.client.CloseIdleConnections()
	return nil
}

// Transcribe uploads the media and returns segment-level timestamps. Only
// non-default parameters are sent, so servers that ignore unknown form
// fields keep working.
func (wc *WhisperClient) Transcribe(ctx context.Context, mediaPath string, req Request) ([]RawSegment, error) {
	fields := []formField{
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
		{"temperature", strconv.FormatFloat(req.Temperature, 'f', 2, 64)},
	}
	if wc.model != "" {
		fields = append(fields, formField{"model", wc.model})
	}
	// Omitting language lets the server auto-detect
	if req.Language != "" {
		fields = append(fields, formField{"language", req.Language})
	}
	if req.BeamSize > 0 {
		fields = append(fields, formField{"beam_size", strconv.Itoa(req.BeamSize)})
	}
	if req.VADFilter {
		fields = append(fields, formField{"vad_filter", "true"})
	}

	body, err := postMedia(ctx, wc.client, "whisper", wc.url, wc.apiKey, "file", mediaPath, fields)
	if err != nil {
		return nil, err
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Segments, nil
}
