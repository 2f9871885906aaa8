package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var webhookEventsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "patrol_webhook_events_total",
	Help: "The total number of authenticated webhook deliveries, by event type",
}, []string{"type"})

var eventHandleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "patrol_event_handle_duration_seconds",
	Help:    "A histogram of event handling latencies",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
}, []string{"kind"})

var commandsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "patrol_commands_total",
	Help: "The total number of handled commands, by command and outcome",
}, []string{"command", "outcome", "reason"})

var commentFailuresCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "patrol_comment_failures_total",
	Help: "The total number of replies that could not be posted",
})

var repositoryChangesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "patrol_repository_changes_total",
	Help: "The total number of repositories registered or removed from installation events",
}, []string{"action"})
