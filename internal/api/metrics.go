package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// nowFunc is swappable in tests.
var nowFunc = time.Now

// serverMetrics holds the Prometheus instruments for the API surface.
type serverMetrics struct {
	inboundMessages  prometheus.Counter
	duplicateInbound prometheus.Counter
	rejectedInbound  prometheus.Counter
	handleFailures   prometheus.Counter
	remindersSent    prometheus.Counter
	handleDuration   prometheus.Histogram
}

func newServerMetrics(reg *prometheus.Registry) *serverMetrics {
	m := &serverMetrics{
		inboundMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careledger_inbound_messages_total",
			Help: "Inbound messages handed to the conversation engine.",
		}),
		duplicateInbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careledger_inbound_duplicates_total",
			Help: "Inbound deliveries dropped by message-id dedup.",
		}),
		rejectedInbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careledger_inbound_rejected_total",
			Help: "Webhook posts rejected for a bad signature.",
		}),
		handleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careledger_handle_failures_total",
			Help: "Engine invocations that returned an error.",
		}),
		remindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careledger_reminders_sent_total",
			Help: "Daily reminders delivered by manual sweep runs.",
		}),
		handleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "careledger_handle_duration_seconds",
			Help:    "Time to process one inbound message.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.inboundMessages,
		m.duplicateInbound,
		m.rejectedInbound,
		m.handleFailures,
		m.remindersSent,
		m.handleDuration,
	)
	return m
}
