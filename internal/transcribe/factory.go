package transcribe

import (
	"fmt"

	"github.com/snarg/subcache/internal/config"
)

// Default model templates per provider.
var defaultModelTemplates = map[string]string{
	"whisper":   "Systran/faster-whisper-{size}",
	"openai":    "whisper-1",
	"deepinfra": "openai/whisper-large-v3-turbo",
}

// NewEngineFactory returns the factory for the configured provider. STT_URL,
// when set, is the whisper endpoint, the OpenAI API base URL or the DeepInfra
// inference base URL respectively.
func NewEngineFactory(cfg config.STTConfig) (EngineFactory, error) {
	template := cfg.ModelTemplate
	if template == "" {
		template = defaultModelTemplates[cfg.Provider]
	}

	switch cfg.Provider {
	case "whisper":
		return func(size string) (Engine, error) {
			return NewWhisperClient(cfg.URL, cfg.APIKey, ModelID(template, size), cfg.Timeout), nil
		}, nil
	case "openai":
		return func(size string) (Engine, error) {
			return NewOpenAIClient(cfg.URL, cfg.APIKey, ModelID(template, size), cfg.Timeout), nil
		}, nil
	case "deepinfra":
		return func(size string) (Engine, error) {
			return NewDeepInfraClient(cfg.URL, cfg.APIKey, ModelID(template, size), cfg.Timeout), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}
