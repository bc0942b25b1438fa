package location

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "location",
		Name:      "publish_attempts_total",
		Help:      "Location upsert attempts, by result.",
	}, []string{"result"})

	samplesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "location",
		Name:      "samples_dropped_total",
		Help:      "Samples discarded before the network step, by reason.",
	}, []string{"reason"})

	autoStops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "location",
		Name:      "auto_stops_total",
		Help:      "Tracking sessions stopped after publishing kept failing.",
	})

	cleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "location",
		Name:      "cleanup_failures_total",
		Help:      "Lookups or deletes that failed while stopping.",
	})

	trackingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vendor_presence",
		Subsystem: "location",
		Name:      "tracking",
		Help:      "1 while a location is published, 0 otherwise.",
	})
)
