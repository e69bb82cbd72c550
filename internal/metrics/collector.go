package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/snarg/subcache/internal/transcribe"
)

// ModelStats provides the collector access to the engine cache.
type ModelStats interface {
	LoadedModels() []string
}

// QueueStats provides the collector access to the transcription queue.
type QueueStats interface {
	Stats() transcribe.QueueStats
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	models ModelStats
	queue  QueueStats

	loadedModels *prometheus.Desc
	queuePending *prometheus.Desc
	queueActive  *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Either source may be nil (metrics will report 0).
func NewCollector(models ModelStats, queue QueueStats) *Collector {
	return &Collector{
		models: models,
		queue:  queue,
		loadedModels: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "loaded_models"),
			"Engines currently held in the model cache.",
			nil, nil,
		),
		queuePending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "pending"),
			"Transcription jobs waiting for a worker.",
			nil, nil,
		),
		queueActive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "active"),
			"Transcription jobs currently running.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.loadedModels
	ch <- c.queuePending
	ch <- c.queueActive
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var loaded int
	if c.models != nil {
		loaded = len(c.models.LoadedModels())
	}
	ch <- prometheus.MustNewConstMetric(c.loadedModels, prometheus.GaugeValue, float64(loaded))

	var stats transcribe.QueueStats
	if c.queue != nil {
		stats = c.queue.Stats()
	}
	ch <- prometheus.MustNewConstMetric(c.queuePending, prometheus.GaugeValue, float64(stats.Pending))
	ch <- prometheus.MustNewConstMetric(c.queueActive, prometheus.GaugeValue, float64(stats.Active))
}
