// File: internal/infra/metrics/metrics.go
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(deliveriesTotal, skipsTotal, wavesPlannedTotal, campaignsDispatchedTotal)
}

var (
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_deliveries_total",
			Help: "Per-recipient delivery outcomes by campaign kind (sent/failed).",
		},
		[]string{"kind", "outcome"},
	)

	skipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_recipients_skipped_total",
			Help: "Recipients skipped at revalidation, by reason.",
		},
		[]string{"kind", "reason"},
	)

	wavesPlannedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_waves_planned_total",
			Help: "Wave jobs persisted by the planner.",
		},
		[]string{"kind"},
	)

	campaignsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaigns_dispatched_total",
			Help: "Campaign dispatches by kind.",
		},
		[]string{"kind"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncDelivery(kind, outcome string) {
	deliveriesTotal.WithLabelValues(norm(kind), norm(outcome)).Inc()
}

func IncSkip(kind, reason string) {
	skipsTotal.WithLabelValues(norm(kind), norm(reason)).Inc()
}

func AddWavesPlanned(kind string, n int) {
	wavesPlannedTotal.WithLabelValues(norm(kind)).Add(float64(n))
}

func IncCampaignDispatched(kind string) {
	campaignsDispatchedTotal.WithLabelValues(norm(kind)).Inc()
}
