package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	availabilityChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vendor_presence",
			Name:      "availability_changes_total",
			Help:      "Transitions of the vendor between available and unavailable.",
		},
		[]string{"state"},
	)

	sessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vendor_presence",
			Name:      "session_events_total",
			Help:      "Logins and logouts handled by the client.",
		},
		[]string{"event"},
	)
)
