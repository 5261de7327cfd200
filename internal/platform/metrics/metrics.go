// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "streamarr"

var (
	// InvitesCreated counts invites created.
	InvitesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "invites",
		Name:      "created_total",
		Help:      "Total invites created.",
	})

	// InvitesRedeemed counts successful redemptions.
	InvitesRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "invites",
		Name:      "redeemed_total",
		Help:      "Total invite redemptions.",
	})

	// InvitesExpired counts invites moved to EXPIRED by the expiry job.
	InvitesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "invites",
		Name:      "expired_total",
		Help:      "Total invites expired by the scheduler.",
	})

	// QuotaRejections counts invite creations refused by quota or trial.
	QuotaRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "invites",
		Name:      "quota_rejections_total",
		Help:      "Invite creations rejected by quota or trial restrictions.",
	})

	// NotificationsDispatched counts dispatches by type.
	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifications",
		Name:      "dispatched_total",
		Help:      "Notifications handed to the dispatcher by type.",
	}, []string{"type"})

	// AgentSends counts agent send outcomes (ok, failed, panic).
	AgentSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifications",
		Name:      "agent_sends_total",
		Help:      "Agent send outcomes by agent and result.",
	}, []string{"agent", "result"})

	// PushSubscriptionsPruned counts subscriptions deleted after a failed push.
	PushSubscriptionsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifications",
		Name:      "push_subscriptions_pruned_total",
		Help:      "Push subscriptions removed after delivery failure.",
	})

	// JobRuns counts scheduled job runs by job id and result.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Scheduled job runs by job and result.",
	}, []string{"job", "result"})

	// HTTPRequestDuration tracks request latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// WebSocketClients tracks connected realtime clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "clients",
		Help:      "Connected websocket clients.",
	})
)
