package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var SyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "creditsync",
	Name:      "sync_total",
	Help:      "Credit sync attempts by result (synced, in_sync, not_configured, unavailable, conflict, error).",
}, []string{"result"})

var SyncDrift = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "creditsync",
	Name:      "sync_drift_credits",
	Help:      "Absolute difference between local and remote credits observed at sync time.",
	Buckets:   []float64{0, 1, 10, 100, 1000, 10000, 100000},
})

var WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "creditsync",
	Name:      "webhook_events_total",
	Help:      "Webhook events by provider and result (processed, duplicate, ignored, failed).",
}, []string{"provider", "result"})

var BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "creditsync",
	Name:      "backend_requests_total",
	Help:      "Requests to the remote account backend by operation and outcome.",
}, []string{"op", "outcome"})

var BackendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "creditsync",
	Name:      "backend_request_seconds",
	Help:      "Latency of remote account backend requests, including retries.",
	Buckets:   prometheus.DefBuckets,
}, []string{"op"})

var PartialLedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "creditsync",
	Name:      "partial_ledger_writes_total",
	Help:      "Local ledger writes whose remote counterpart failed, by transaction type.",
}, []string{"type"})

var OutboxSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "creditsync",
	Name:      "outbox_messages_total",
	Help:      "Outbox messages handled by the sender, by outcome.",
}, []string{"outcome"})
