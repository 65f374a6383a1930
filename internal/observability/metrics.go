package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostelgate_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hostelgate_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// RequestTransitions counts workflow transitions by application type and target status.
	RequestTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostelgate_request_transitions_total",
		Help: "Total number of request status transitions",
	}, []string{"application_type", "from", "to"})

	// OptimisticLockConflicts counts conditional writes that lost a race.
	OptimisticLockConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostelgate_optimistic_lock_conflicts_total",
		Help: "Total number of conditional writes rejected by a concurrent modification",
	}, []string{"operation"})

	// OtpDispatchTotal counts OTP deliveries by kind (generate, resend) and outcome.
	OtpDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostelgate_otp_dispatch_total",
		Help: "Total number of OTP dispatch attempts",
	}, []string{"kind", "outcome"})

	// OtpDispatchFailures counts OTP deliveries that failed at the gateway.
	OtpDispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otp_dispatch_failures_total",
		Help: "Total number of OTP dispatch failures",
	})

	// GatePassConsumptions counts gate scans by direction and outcome.
	GatePassConsumptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostelgate_gatepass_consumptions_total",
		Help: "Total number of gate pass scans by direction and outcome",
	}, []string{"direction", "outcome"})
)

// RecordTransition increments the transition counter.
func RecordTransition(appType, from, to string) {
	RequestTransitions.WithLabelValues(appType, from, to).Inc()
}

// RecordOtpDispatch records one OTP delivery attempt.
func RecordOtpDispatch(kind string, err error) {
	if err != nil {
		OtpDispatchTotal.WithLabelValues(kind, "failed").Inc()
		OtpDispatchFailures.Inc()
		return
	}
	OtpDispatchTotal.WithLabelValues(kind, "sent").Inc()
}

// RecordConsumption records one gate scan outcome.
func RecordConsumption(direction, outcome string) {
	GatePassConsumptions.WithLabelValues(direction, outcome).Inc()
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
