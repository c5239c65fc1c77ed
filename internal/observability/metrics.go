package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the speech gateway.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
	CacheEvictions    prometheus.Counter
	PlaybackSessions  *prometheus.CounterVec
	Recognitions      *prometheus.CounterVec
	Fallbacks         prometheus.Counter
	BackendErrors     *prometheus.CounterVec
	SynthesisLatency  prometheus.Histogram
	TranscribeLatency prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active speech sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_cache_lookups_total",
			Help:      "Synthesis cache lookups by outcome (hit, miss).",
		}, []string{"outcome"}),
		CacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_cache_evictions_total",
			Help:      "Synthesis cache entries released by the TTL sweep.",
		}),
		PlaybackSessions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_sessions_total",
			Help:      "Playback sessions by outcome (ended, stopped, errored, rejected).",
		}, []string{"outcome"}),
		Recognitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognitions_total",
			Help:      "Recognition attempts by mode and outcome.",
		}, []string{"mode", "outcome"}),
		Fallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_fallbacks_total",
			Help:      "Recognition backend switches triggered by failures.",
		}),
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Backend errors by endpoint and code.",
		}, []string{"endpoint", "code"}),
		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Latency of synthesis backend requests in milliseconds.",
			Buckets:   []float64{100, 200, 400, 700, 1000, 1500, 2500, 5000},
		}),
		TranscribeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_ms",
			Help:      "Latency of transcription backend requests in milliseconds.",
			Buckets:   []float64{200, 400, 700, 1000, 1500, 2500, 5000, 10000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveSynthesisLatency(d time.Duration) {
	m.SynthesisLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageSynthesize, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveTranscribeLatency(d time.Duration) {
	m.TranscribeLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageTranscribe, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) LatencySnapshot() StageSnapshot {
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
