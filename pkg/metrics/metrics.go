package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robotdesk_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// VerificationOutcomes counts consume attempts by outcome (verified|already_verified|expired|not_found).
	VerificationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robotdesk_verification_outcomes_total",
			Help: "Total number of email verification attempts by outcome",
		},
		[]string{"outcome"},
	)

	// VerificationRegenerations counts successful token regenerations.
	VerificationRegenerations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "robotdesk_verification_regenerations_total",
			Help: "Total number of verification tokens regenerated",
		},
	)

	// NotificationDeliveries counts notifier sends by kind and result (sent, failed, disabled, skipped).
	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robotdesk_notification_deliveries_total",
			Help: "Total number of verification emails attempted",
		},
		[]string{"kind", "result"},
	)

	// TokenRefreshes counts robot token refresh attempts by result.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robotdesk_robot_token_refreshes_total",
			Help: "Total number of robot API token refresh attempts",
		},
		[]string{"result"},
	)

	// UpstreamCalls measures calls to the robot API by operation and status.
	UpstreamCalls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "robotdesk_robot_upstream_seconds",
			Help:    "Robot API call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "robotdesk_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// MaintenanceRuns counts background maintenance jobs by job and result (success|failure).
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robotdesk_maintenance_runs_total",
			Help: "Total number of maintenance job executions",
		},
		[]string{"job", "result"},
	)
)
