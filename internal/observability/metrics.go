package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "food_rescue"

var (
	ListingsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "listings_created_total", Help: "Total listings created"})
	ListingsExpired = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "listings_expired_total", Help: "Listings flipped to EXPIRED by the sweep"})
	PickupsReaped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "pickups_reaped_total", Help: "Approved claims cancelled after their pickup time passed"})

	ClaimTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "claim_transitions_total", Help: "Claim operations by outcome"},
		[]string{"op", "outcome"},
	)
	// LockRejections counts approvals that passed the pre-check but lost the race under the listing lock.
	LockRejections = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "approval_lock_rejections_total", Help: "Approvals rejected after re-validation under the listing lock"})
	LockWait       = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "listing_lock_seconds", Help: "Time spent inside the listing read-for-update unit of work", Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14)})

	RankLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "rank_latency_seconds", Help: "Candidate ranking latency seconds"})

	EscalationBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "escalation_batches_total", Help: "Escalation waves by result"},
		[]string{"result"},
	)
	EscalationTick      = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "escalation_tick_seconds", Help: "Escalation tick duration"})
	NotificationsSent   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_delivered_total", Help: "Recipients successfully notified"}, []string{"channel"})
	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_failed_total", Help: "Recipients whose delivery failed"}, []string{"channel"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
