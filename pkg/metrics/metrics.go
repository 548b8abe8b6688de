// Package metrics registers the Prometheus collectors the balancer and
// endpoint update as they run: per-server scores, the elected server,
// election switches, and association/packet counts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ServerScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shadowrelay_server_score",
			Help: "Current latency score of each upstream server (lower is better).",
		},
		[]string{"server"},
	)

	BestServer = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shadowrelay_best_server",
			Help: "1 for the server currently elected best, 0 otherwise.",
		},
		[]string{"server"},
	)

	ElectionSwitchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shadowrelay_election_switches_total",
			Help: "Total number of times the balancer's elected server changed.",
		},
	)

	AssociationsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shadowrelay_associations_active",
			Help: "Number of live UDP associations in the table.",
		},
	)

	AssociationsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shadowrelay_associations_created_total",
			Help: "Total number of UDP associations created.",
		},
	)

	PacketsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadowrelay_packets_dropped_total",
			Help: "Datagrams dropped, labeled by reason.",
		},
		[]string{"reason"},
	)
)

// Init registers all collectors. Call once at startup.
func Init() {
	prometheus.MustRegister(
		ServerScore,
		BestServer,
		ElectionSwitchesTotal,
		AssociationsActive,
		AssociationsCreatedTotal,
		PacketsDroppedTotal,
	)
}

// Handler exposes the registered collectors for scraping over HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}
