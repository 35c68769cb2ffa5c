package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rwkvtts",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Requests currently waiting for or holding the runtime semaphore.",
	})

	decodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rwkvtts",
		Subsystem: "scheduler",
		Name:      "decode_duration_seconds",
		Help:      "Wall-clock time spent in a single GenerateTTS call, by path.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path"})

	tokensEmitted = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rwkvtts",
		Subsystem: "scheduler",
		Name:      "tokens_emitted",
		Help:      "Count of tokens emitted per phase per request.",
		Buckets:   []float64{0, 1, 8, 32, 64, 128, 256, 512, 1024, 2048},
	}, []string{"phase"})
)

// Collectors returns the scheduler's Prometheus collectors for
// registration by the embedding application (e.g. internal/server's
// /metrics handler).
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{queueDepth, decodeDuration, tokensEmitted}
}

func observeDecode(path string, start time.Time) {
	decodeDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
}
