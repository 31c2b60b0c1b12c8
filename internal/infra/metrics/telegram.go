package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(telegramSendLatencyMs, telegramErrorsTotal)
}

var (
	telegramSendLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telegram_send_latency_ms",
			Help:    "Telegram Bot API send latency in milliseconds.",
			Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
		[]string{"method", "success"},
	)

	telegramErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_send_errors_total",
			Help: "Telegram send errors by class (throttled/blocked/other).",
		},
		[]string{"class"},
	)
)

func ObserveTelegramSend(method string, ms int64, success bool) {
	s := "false"
	if success {
		s = "true"
	}
	telegramSendLatencyMs.WithLabelValues(norm(method), s).Observe(float64(ms))
}

func IncTelegramError(class string) {
	telegramErrorsTotal.WithLabelValues(norm(class)).Inc()
}
