package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsProcessedTotal, jobsStuck, tickDuration) }

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_jobs_processed_total",
			Help: "Total number of queue jobs processed, labeled by class and terminal status.",
		},
		[]string{"class", "status"}, // class: wave|send, status: completed|error
	)

	jobsStuck = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "campaign_jobs_stuck",
			Help: "Wave jobs left in processing longer than the stuck threshold at last check.",
		},
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campaign_queue_tick_seconds",
			Help:    "Duration of one queue scheduler tick.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

func IncJob(class, status string) {
	jobsProcessedTotal.WithLabelValues(norm(class), norm(status)).Inc()
}

func SetStuckJobs(n int) {
	jobsStuck.Set(float64(n))
}

func ObserveTick(seconds float64) {
	tickDuration.Observe(seconds)
}
