package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "chat",
		Name:      "messages_merged_total",
		Help:      "Messages added to open channels, by source.",
	}, []string{"source"})

	duplicatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "chat",
		Name:      "duplicates_dropped_total",
		Help:      "Messages ignored because their id was already listed, by source.",
	}, []string{"source"})

	conversationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "chat",
		Name:      "conversations_created_total",
		Help:      "Conversations created by EnsureConversation.",
	})

	conflictsAdopted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vendor_presence",
		Subsystem: "chat",
		Name:      "conversation_conflicts_total",
		Help:      "Creates answered with 409 and resolved by adopting the existing conversation.",
	})
)
