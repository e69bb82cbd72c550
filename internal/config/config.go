package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DataDir       string `env:"DATA_DIR" envDefault:"./data"`
	UploadDir     string `env:"UPLOAD_DIR"`     // default: $DATA_DIR/uploads
	TranscriptDir string `env:"TRANSCRIPT_DIR"` // default: $DATA_DIR/transcripts
	LockDir       string `env:"LOCK_DIR"`       // default: $DATA_DIR/locks
	InboxDir      string `env:"INBOX_DIR"`      // optional drop folder, disabled when empty

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5m"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30m"` // transcription is synchronous
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"2048"`
	CORSOrigins  []string      `env:"CORS_ORIGINS" envSeparator:","`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	STT  STTConfig
	S3   S3Config
	MQTT MQTTConfig

	TempRetention time.Duration `env:"TEMP_RETENTION" envDefault:"6h"`
}

// STTConfig selects and tunes the speech-to-text engine.
type STTConfig struct {
	Provider      string        `env:"STT_PROVIDER" envDefault:"whisper"` // whisper, openai, deepinfra
	URL           string        `env:"STT_URL"`                           // empty = provider default
	APIKey        string        `env:"STT_API_KEY"`
	ModelTemplate string        `env:"STT_MODEL_TEMPLATE"` // "{size}" is replaced by the requested model size
	Timeout       time.Duration `env:"STT_TIMEOUT" envDefault:"20m"`
	Workers       int           `env:"STT_WORKERS" envDefault:"1"`
	QueueSize     int           `env:"STT_QUEUE_SIZE" envDefault:"32"`

	DefaultModelSize string  `env:"DEFAULT_MODEL_SIZE" envDefault:"small"`
	BeamSize         int     `env:"BEAM_SIZE" envDefault:"5"`
	VADFilter        bool    `env:"VAD_FILTER" envDefault:"false"`
	Temperature      float64 `env:"TEMPERATURE" envDefault:"0"`
	ModelCacheSize   int     `env:"MODEL_CACHE_SIZE" envDefault:"4"`
	ExtractAudio     bool    `env:"EXTRACT_AUDIO" envDefault:"false"`
}

// S3Config configures the optional S3 mirror of stored artifacts.
type S3Config struct {
	Bucket            string        `env:"S3_BUCKET"`
	Endpoint          string        `env:"S3_ENDPOINT"`
	Region            string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey         string        `env:"S3_ACCESS_KEY"`
	SecretKey         string        `env:"S3_SECRET_KEY"`
	Prefix            string        `env:"S3_PREFIX"`
	UploadWorkers     int           `env:"S3_UPLOAD_WORKERS" envDefault:"2"`
	UploadQueueSize   int           `env:"S3_UPLOAD_QUEUE_SIZE" envDefault:"256"`
	ReconcileInterval time.Duration `env:"S3_RECONCILE_INTERVAL" envDefault:"5m"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// MQTTConfig configures optional transcript notifications.
type MQTTConfig struct {
	BrokerURL string `env:"MQTT_BROKER_URL"`
	ClientID  string `env:"MQTT_CLIENT_ID" envDefault:"subcache"`
	Topic     string `env:"MQTT_TOPIC" envDefault:"subcache/transcripts"`
	Username  string `env:"MQTT_USERNAME"`
	Password  string `env:"MQTT_PASSWORD"`
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool { return c.BrokerURL != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
	DataDir  string
	InboxDir string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}
	if overrides.InboxDir != "" {
		cfg.InboxDir = overrides.InboxDir
	}

	// Directories not set explicitly live under the data dir
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(cfg.DataDir, "uploads")
	}
	if cfg.TranscriptDir == "" {
		cfg.TranscriptDir = filepath.Join(cfg.DataDir, "transcripts")
	}
	if cfg.LockDir == "" {
		cfg.LockDir = filepath.Join(cfg.DataDir, "locks")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.STT.Provider {
	case "whisper", "openai", "deepinfra":
	default:
		return fmt.Errorf("invalid STT_PROVIDER %q: must be whisper, openai or deepinfra", c.STT.Provider)
	}
	if c.STT.Workers < 1 {
		return fmt.Errorf("invalid STT_WORKERS %d: must be >= 1", c.STT.Workers)
	}
	if c.STT.ModelCacheSize < 1 {
		return fmt.Errorf("invalid MODEL_CACHE_SIZE %d: must be >= 1", c.STT.ModelCacheSize)
	}
	if c.STT.DefaultModelSize == "" {
		return fmt.Errorf("DEFAULT_MODEL_SIZE must not be empty")
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("invalid MAX_UPLOAD_MB %d: must be >= 1", c.MaxUploadMB)
	}
	if c.STT.Provider != "whisper" && c.STT.APIKey == "" {
		return fmt.Errorf("STT_API_KEY is required for provider %q", c.STT.Provider)
	}
	return nil
}
