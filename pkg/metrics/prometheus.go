package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
	initialized  bool

	// Call metrics
	CallsTotal          *prometheus.CounterVec
	CallDurationSeconds prometheus.Histogram

	// TTS metrics
	TTSRequestsTotal *prometheus.CounterVec

	// Queue metrics
	QueueDepth prometheus.Gauge

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Event stream metrics
	StreamReconnectsTotal prometheus.Counter

	// AMQP metrics
	EventsPublishedTotal prometheus.Counter
)

// Init initializes all collectors and registers them with Prometheus.
// Safe to call more than once; only the first call takes effect.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		CallsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecall_calls_total",
				Help: "Total processed calls by final status",
			},
			[]string{"status"},
		)

		CallDurationSeconds = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voicecall_call_duration_seconds",
				Help:    "Observed call processing duration",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		)

		TTSRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecall_tts_requests_total",
				Help: "Speech synthesis attempts by provider and result",
			},
			[]string{"provider", "result"},
		)

		QueueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voicecall_queue_depth",
				Help: "Jobs currently waiting in the work queue",
			},
		)

		CacheHits = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voicecall_tts_cache_hits_total",
				Help: "Synthesis results served from cache",
			},
		)

		CacheMisses = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voicecall_tts_cache_misses_total",
				Help: "Synthesis requests that missed the cache",
			},
		)

		StreamReconnectsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voicecall_event_stream_reconnects_total",
				Help: "Event stream reconnect attempts",
			},
		)

		EventsPublishedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voicecall_events_published_total",
				Help: "Call lifecycle events published to AMQP",
			},
		)

		registry.MustRegister(
			CallsTotal,
			CallDurationSeconds,
			TTSRequestsTotal,
			QueueDepth,
			CacheHits,
			CacheMisses,
			StreamReconnectsTotal,
			EventsPublishedTotal,
		)

		initialized = true
		logger.Info("Prometheus metrics initialized")
	})
}

// Handler returns the scrape endpoint handler
func Handler() http.Handler {
	if !initialized {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordCall counts a finished call. No-op before Init.
func RecordCall(status string, durationSeconds float64) {
	if !initialized {
		return
	}
	CallsTotal.WithLabelValues(status).Inc()
	CallDurationSeconds.Observe(durationSeconds)
}

// RecordTTSRequest counts one provider attempt. No-op before Init.
func RecordTTSRequest(provider, result string) {
	if !initialized {
		return
	}
	TTSRequestsTotal.WithLabelValues(provider, result).Inc()
}

// SetQueueDepth records the pending job count. No-op before Init.
func SetQueueDepth(depth int) {
	if !initialized {
		return
	}
	QueueDepth.Set(float64(depth))
}

// RecordCacheHit counts a synthesis cache hit. No-op before Init.
func RecordCacheHit() {
	if !initialized {
		return
	}
	CacheHits.Inc()
}

// RecordCacheMiss counts a synthesis cache miss. No-op before Init.
func RecordCacheMiss() {
	if !initialized {
		return
	}
	CacheMisses.Inc()
}

// RecordStreamReconnect counts one reconnect attempt. No-op before Init.
func RecordStreamReconnect() {
	if !initialized {
		return
	}
	StreamReconnectsTotal.Inc()
}

// RecordEventPublished counts one published AMQP event. No-op before Init.
func RecordEventPublished() {
	if !initialized {
		return
	}
	EventsPublishedTotal.Inc()
}
