// Package metrics holds the prometheus collectors shared by the modules.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProxyRequests counts relayed requests by upstream class and status code
	ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinerelay",
		Subsystem: "proxy",
		Name:      "requests_total",
		Help:      "Requests relayed to the cloud backend.",
	}, []string{"upstream", "status"})

	// ProxyDuration observes upstream round-trip latency
	ProxyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cinerelay",
		Subsystem: "proxy",
		Name:      "request_duration_seconds",
		Help:      "Latency of upstream round trips.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"upstream"})

	// Acquisitions counts finished acquisition runs by outcome
	Acquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinerelay",
		Name:      "acquisitions_total",
		Help:      "Finished acquisition runs by outcome.",
	}, []string{"outcome"})

	// PollAttempts observes how many polls a run needed
	PollAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cinerelay",
		Name:      "acquisition_poll_attempts",
		Help:      "Poll iterations per acquisition run.",
		Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 120},
	})

	// ActiveRuns tracks acquisitions currently in flight
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cinerelay",
		Name:      "acquisitions_active",
		Help:      "Acquisition runs currently in flight.",
	})
)

// Handler exposes the default registry for gin
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
