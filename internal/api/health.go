package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/subcache/internal/transcribe"
)

type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Checks        map[string]string      `json:"checks"`
	Queue         *transcribe.QueueStats `json:"queue,omitempty"`
	LoadedModels  []string               `json:"loaded_models,omitempty"`
	Watcher       *WatcherStatusData     `json:"watcher,omitempty"`
}

// The health sources below are all optional; nil means not configured.
type (
	StorageChecker interface {
		CheckWritable() error
	}
	BrokerStatus interface {
		IsConnected() bool
	}
	BucketChecker interface {
		HeadBucket(ctx context.Context) error
	}
	WatcherStatusSource interface {
		Status() *WatcherStatusData
	}
	QueueStatsSource interface {
		Stats() transcribe.QueueStats
	}
	ModelSource interface {
		LoadedModels() []string
	}
)

// HealthSources collects what the health endpoint reports on.
type HealthSources struct {
	Storage StorageChecker
	MQTT    BrokerStatus
	S3      BucketChecker
	Watcher WatcherStatusSource
	Queue   QueueStatsSource
	Models  ModelSource
}

type HealthHandler struct {
	src       HealthSources
	version   string
	startTime time.Time
}

func NewHealthHandler(src HealthSources, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		src:       src,
		version:   version,
		startTime: startTime,
	}
}

// Ping is the liveness probe.
func Ping(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	// Storage check
	if h.src.Storage != nil {
		if err := h.src.Storage.CheckWritable(); err != nil {
			checks["storage"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["storage"] = "ok"
		}
	}

	// MQTT check
	if h.src.MQTT != nil {
		if h.src.MQTT.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// S3 mirror check
	if h.src.S3 != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		err := h.src.S3.HeadBucket(ctx)
		cancel()
		if err != nil {
			checks["s3"] = "error"
			degrade()
		} else {
			checks["s3"] = "ok"
		}
	} else {
		checks["s3"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	// Inbox watcher
	if h.src.Watcher != nil {
		if ws := h.src.Watcher.Status(); ws != nil {
			checks["inbox_watcher"] = ws.Status
			resp.Watcher = ws
		}
	} else {
		checks["inbox_watcher"] = "not_configured"
	}

	if h.src.Queue != nil {
		qs := h.src.Queue.Stats()
		resp.Queue = &qs
	}
	if h.src.Models != nil {
		resp.LoadedModels = h.src.Models.LoadedModels()
	}

	WriteJSON(w, httpStatus, resp)
}
