// Package metrics exposes listener counters for Prometheus. A nil *Metrics is
// valid and records nothing, which is how metrics are disabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mycroft"

type Metrics struct {
	registry *prometheus.Registry

	Wakeups               prometheus.Counter
	Utterances            prometheus.Counter
	TranscriptionFailures *prometheus.CounterVec
	LocalSTTDuration      prometheus.Histogram
	AudioIOErrors         prometheus.Counter
	QueueDepth            prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Wakeups: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wakeups_total",
			Help:      "Times the device was woken from sleep by the stand-up phrase",
		}),
		Utterances: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances transcribed and published",
		}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_failures_total",
			Help:      "Transcription attempts that produced no utterance, by reason",
		}, []string{"reason"}),
		LocalSTTDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "local_stt_seconds",
			Help:      "Time spent in local wake word recognition",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		}),
		AudioIOErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_io_errors_total",
			Help:      "Audio device read failures",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Utterances waiting for dispatch",
		}),
	}
}

func (m *Metrics) Wakeup() {
	if m == nil {
		return
	}

	m.Wakeups.Inc()
}

func (m *Metrics) Utterance() {
	if m == nil {
		return
	}

	m.Utterances.Inc()
}

func (m *Metrics) TranscriptionFailed(reason string) {
	if m == nil {
		return
	}

	m.TranscriptionFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveLocalSTT(d time.Duration) {
	if m == nil {
		return
	}

	m.LocalSTTDuration.Observe(d.Seconds())
}

func (m *Metrics) AudioIOError() {
	if m == nil {
		return
	}

	m.AudioIOErrors.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}

	m.QueueDepth.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
