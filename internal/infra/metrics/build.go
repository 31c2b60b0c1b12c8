package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(buildInfo)
}

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "campaign_bot_build_info",
		Help: "A constant metric with labels for version, commit and campaign owner.",
	},
	[]string{"version", "commit", "owner_id"},
)

func SetBuildInfo(version, commit, ownerID string) {
	buildInfo.WithLabelValues(version, commit, ownerID).Set(1)
}
