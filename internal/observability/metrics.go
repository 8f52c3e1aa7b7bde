// Package observability exposes Prometheus instruments for the session engine.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the daemon.
type Metrics struct {
	SessionConnects   *prometheus.CounterVec
	SessionErrors     *prometheus.CounterVec
	TurnsAppended     *prometheus.CounterVec
	ToolCalls         *prometheus.CounterVec
	AudioChunksIn     prometheus.Counter
	AudioChunksOut    prometheus.Counter
	BargeIns          prometheus.Counter
	Connected         prometheus.Gauge
	ConnectLatency    prometheus.Histogram
}

// New registers and returns the instrument set under the given namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		SessionConnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_connects_total",
			Help:      "Session connect attempts by outcome.",
		}, []string{"outcome"}),
		SessionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Session errors by classified kind.",
		}, []string{"kind"}),
		TurnsAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_appended_total",
			Help:      "Conversation turns appended by role.",
		}, []string{"role"}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched by name and outcome.",
		}, []string{"tool", "outcome"}),
		AudioChunksIn: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_in_total",
			Help:      "Microphone chunks forwarded to the transport.",
		}),
		AudioChunksOut: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_out_total",
			Help:      "Agent audio chunks queued for playback.",
		}),
		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Interruptions that flushed queued playback.",
		}),
		Connected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_connected",
			Help:      "1 while a live session is established.",
		}),
		ConnectLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_ms",
			Help:      "Time to complete the live handshake in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000},
		}),
	}
}

// ObserveConnectLatency records a handshake duration.
func (m *Metrics) ObserveConnectLatency(d time.Duration) {
	m.ConnectLatency.Observe(float64(d.Milliseconds()))
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
