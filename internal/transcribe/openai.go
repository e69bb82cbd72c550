package transcribe

import (
	"context"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient transcribes through the OpenAI audio API, or any server that
// mirrors it, using go-openai. Implements Engine.
type OpenAIClient struct {
	client *openai.Client
	http   *http.Client
	model  string
}

// NewOpenAIClient creates a client. An empty baseURL selects api.openai.com.
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	hc := &http.Client{Timeout: timeout}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = hc
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		http:   hc,
		model:  model,
	}
}

func (oc *OpenAIClient) Name() string  { return "openai" }
func (oc *OpenAIClient) Model() string { return oc.model }

func (oc *OpenAIClient) Close() error {
	oc.http.CloseIdleConnections()
	return nil
}

// Transcribe requests verbose JSON with segment timestamps. The OpenAI API
// has no beam size or VAD controls, so those options are not sent.
func (oc *OpenAIClient) Transcribe(ctx context.Context, mediaPath string, req Request) ([]RawSegment, error) {
	resp, err := oc.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       oc.model,
		FilePath:    mediaPath,
		Language:    req.Language,
		Temperature: float32(req.Temperature),
		Format:      openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
		},
	})
	if err != nil {
		return nil, err
	}

	segments := make([]RawSegment, len(resp.Segments))
	for i, s := range resp.Segments {
		start, end, text := s.Start, s.End, s.Text
		segments[i] = RawSegment{Start: &start, End: &end, Text: &text}
	}
	return segments, nil
}
