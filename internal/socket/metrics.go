package socket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "socket",
		Name:      "reconnects_total",
		Help:      "Reconnect cycles started after a lost or failed connection.",
	})

	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "socket",
		Name:      "frames_received_total",
		Help:      "Inbound frames dispatched, by type.",
	}, []string{"type"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "socket",
		Name:      "frames_dropped_total",
		Help:      "Inbound frames discarded, by reason.",
	}, []string{"reason"})

	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "socket",
		Name:      "frames_sent_total",
		Help:      "Outbound frames written, by type.",
	}, []string{"type"})

	sendsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "socket",
		Name:      "sends_rejected_total",
		Help:      "Sends refused because the connection was not registered.",
	})

	connectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vendor_presence",
		Subsystem: "socket",
		Name:      "state",
		Help:      "Current connection state (0 disconnected, 1 connecting, 2 registered).",
	})
)
