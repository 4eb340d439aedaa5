package bookcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of a worker.
type Metrics struct {
	// Responses handed out, by strategy and outcome.
	Responses *prometheus.CounterVec
	// Catalogue walks, by result.
	Refreshes *prometheus.CounterVec
	// Pages and update targets refetched, by result.
	RefreshedEntries *prometheus.CounterVec
	RefreshDuration  prometheus.Histogram
	// Manifest assets fetched at install, by result.
	InstalledAssets *prometheus.CounterVec
}

// NewMetrics creates the worker collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookcache",
			Name:      "responses_total",
			Help:      "Responses handed out by the worker.",
		}, []string{"strategy", "outcome"}),
		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookcache",
			Name:      "refreshes_total",
			Help:      "Catalogue refresh walks.",
		}, []string{"result"}),
		RefreshedEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookcache",
			Name:      "refreshed_entries_total",
			Help:      "Dynamic cache entries refetched by refreshes.",
		}, []string{"result"}),
		RefreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookcache",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of catalogue refresh walks.",
			Buckets:   prometheus.DefBuckets,
		}),
		InstalledAssets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookcache",
			Name:      "installed_assets_total",
			Help:      "Manifest assets fetched at install.",
		}, []string{"result"}),
	}
}

const (
	outcomeHit          = "hit"
	outcomeStored       = "stored"
	outcomeForwarded    = "forwarded"
	outcomeFallback     = "fallback"
	outcomeNetworkError = "network_error"
	outcomeError        = "error"

	resultOK     = "ok"
	resultFailed = "failed"
)

func resultLabel(err error) string {
	if err != nil {
		return resultFailed
	}
	return resultOK
}
