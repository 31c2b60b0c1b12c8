package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		limiterWaitMs,
		throttleSignalsTotal,
		forcedGrantsTotal,
		backoffMultiplier,
		recipientBuckets,
	)
}

var (
	limiterWaitMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ratelimit_acquire_wait_ms",
			Help:    "Time spent waiting for tokens per acquisition, in milliseconds.",
			Buckets: []float64{0, 10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
	)

	throttleSignalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_throttle_signals_total",
			Help: "Provider throttling signals (HTTP 429) reported to the limiter.",
		},
	)

	forcedGrantsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_forced_grants_total",
			Help: "Acquisitions granted by the wait ceiling instead of available tokens.",
		},
	)

	backoffMultiplier = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_backoff_multiplier",
			Help: "Current adaptive backoff multiplier (1.0 - 2.0).",
		},
	)

	recipientBuckets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_recipient_buckets",
			Help: "Per-recipient token buckets currently held in memory.",
		},
	)
)

func ObserveLimiterWait(ms int64) {
	limiterWaitMs.Observe(float64(ms))
}

func IncThrottleSignal() {
	throttleSignalsTotal.Inc()
}

func IncForcedGrant() {
	forcedGrantsTotal.Inc()
}

func SetBackoffMultiplier(v float64) {
	backoffMultiplier.Set(v)
}

func SetRecipientBuckets(n int) {
	recipientBuckets.Set(float64(n))
}
