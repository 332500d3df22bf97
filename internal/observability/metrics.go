package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgevox",
			Subsystem: "device",
			Name:      "connect_attempts_total",
			Help:      "Collector session open attempts.",
		},
		[]string{"success"},
	)
	audioSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgevox",
			Subsystem: "device",
			Name:      "audio_send_attempts_total",
			Help:      "Audio packet send attempts by outcome.",
		},
		[]string{"outcome"},
	)
	ackLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "edgevox",
			Subsystem: "device",
			Name:      "audio_ack_seconds",
			Help:      "Time from audio packet write to matching ack.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgevox",
			Subsystem: "device",
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent by outcome.",
		},
		[]string{"outcome"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgevox",
			Subsystem: "device",
			Name:      "reconnects_total",
			Help:      "Session teardowns by failure reason.",
		},
		[]string{"reason"},
	)
	connectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "edgevox",
			Subsystem: "device",
			Name:      "connection_state",
			Help:      "0=disconnected 1=connecting 2=connected.",
		},
	)
	sequence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "edgevox",
			Subsystem: "device",
			Name:      "sequence",
			Help:      "Next outbound audio sequence number.",
		},
	)
	framesCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgevox",
			Subsystem: "device",
			Name:      "frames_total",
			Help:      "Captured frames by voice decision.",
		},
		[]string{"speech"},
	)
	collectorMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgevox",
			Subsystem: "collector",
			Name:      "messages_total",
			Help:      "Device messages received by kind and disposition.",
		},
		[]string{"kind", "disposition"},
	)
	collectorDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "edgevox",
			Subsystem: "collector",
			Name:      "devices",
			Help:      "Currently connected devices.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgevox",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgevox",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectAttempts,
			audioSends,
			ackLatency,
			heartbeats,
			reconnects,
			connectionState,
			sequence,
			framesCaptured,
			collectorMessages,
			collectorDevices,
			httpRequests,
			httpDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordConnectAttempt(success bool) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordAudioSend counts one send attempt. outcome is "acked", "mismatch" or "error".
func RecordAudioSend(outcome string, latency time.Duration) {
	RegisterMetrics()
	audioSends.WithLabelValues(outcome).Inc()
	if outcome == "acked" {
		ackLatency.Observe(latency.Seconds())
	}
}

func RecordHeartbeat(outcome string) {
	RegisterMetrics()
	heartbeats.WithLabelValues(outcome).Inc()
}

func RecordReconnect(reason string) {
	RegisterMetrics()
	reconnects.WithLabelValues(reason).Inc()
}

func SetConnectionState(state int) {
	RegisterMetrics()
	connectionState.Set(float64(state))
}

func SetSequence(seq uint32) {
	RegisterMetrics()
	sequence.Set(float64(seq))
}

func RecordFrame(speech bool) {
	RegisterMetrics()
	framesCaptured.WithLabelValues(strconv.FormatBool(speech)).Inc()
}

func RecordCollectorMessage(kind, disposition string) {
	RegisterMetrics()
	collectorMessages.WithLabelValues(kind, disposition).Inc()
}

func AddCollectorDevices(delta int) {
	RegisterMetrics()
	collectorDevices.Add(float64(delta))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
