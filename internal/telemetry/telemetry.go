package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Счётчики чата. Регистрируются в DefaultRegisterer, отдаются на /metrics.
var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "support_chat_events_published_total",
		Help: "Change events published to the notification broker, by table.",
	}, []string{"table"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "support_chat_messages_sent_total",
		Help: "Messages appended through the chat API.",
	})

	TicketsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "support_chat_tickets_started_total",
		Help: "Tickets created by the create-or-resume flow.",
	})
)
