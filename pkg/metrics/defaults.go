package metrics

import "sync"

// Default metrics for the wishmock server.
// These are initialized by calling Init().
//
// # Label Conventions
//
// All label values are lowercase:
//
//   - protocol: connect, grpc-web, grpc
//   - status: lowercase gRPC code names (ok, invalid_argument, unimplemented, ...)
//   - kind: error taxonomy kinds (method_unknown, decode_error, validation_failed,
//     rule_not_matched, encode_error, internal, cancelled)
//   - type: validation constraint kinds (min_len, email, required, ...)
//   - rule_key: lowercase package.service.method
var (
	// ValidationChecksTotal counts request messages run through the validator.
	ValidationChecksTotal *Counter

	// ValidationFailuresTotal counts request messages that failed validation.
	ValidationFailuresTotal *Counter

	// ValidationFailuresByType counts individual violations by constraint kind.
	// Labels: type
	ValidationFailuresByType *Counter

	// MatchAttemptsTotal counts rule-matching attempts.
	MatchAttemptsTotal *Counter

	// MatchesTotal counts calls for which an eligible rule was selected.
	MatchesTotal *Counter

	// MatchMissesTotal counts calls with no eligible rule.
	MatchMissesTotal *Counter

	// MatchesByRule counts selections per rule key.
	// Labels: rule_key
	MatchesByRule *Counter

	// RequestsTotal counts incoming RPCs.
	// Labels: protocol, method, status
	RequestsTotal *Counter

	// ErrorsTotal counts failed RPCs by taxonomy kind.
	// Labels: protocol, kind
	ErrorsTotal *Counter

	// RequestDuration tracks RPC durations in seconds.
	// Labels: protocol, method
	RequestDuration *Histogram

	// ActiveStreams tracks in-flight server streams.
	// Labels: protocol
	ActiveStreams *Gauge

	// Events is the bounded ring of recent validation events.
	Events *EventRing

	// defaultRegistry is the global metrics registry.
	defaultRegistry *Registry

	// initOnce ensures Init() is only called once.
	initOnce sync.Once
)

// DefaultBuckets are the default histogram buckets for request durations (in seconds).
var DefaultBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Init initializes the default metrics and returns the registry.
// This function is idempotent and safe to call multiple times.
func Init() *Registry {
	initOnce.Do(func() {
		defaultRegistry = NewRegistry()

		ValidationChecksTotal = defaultRegistry.NewCounter(
			"wishmock_validation_checks_total",
			"Total number of request messages checked by the validator",
		)
		ValidationFailuresTotal = defaultRegistry.NewCounter(
			"wishmock_validation_failures_total",
			"Total number of request messages that failed validation",
		)
		ValidationFailuresByType = defaultRegistry.NewCounter(
			"wishmock_validation_failures_by_type",
			"Validation violations by constraint kind",
			"type",
		)

		MatchAttemptsTotal = defaultRegistry.NewCounter(
			"wishmock_rule_matching_attempts_total",
			"Total number of rule-matching attempts",
		)
		MatchesTotal = defaultRegistry.NewCounter(
			"wishmock_rule_matching_matches_total",
			"Total number of calls matched to a rule",
		)
		MatchMissesTotal = defaultRegistry.NewCounter(
			"wishmock_rule_matching_misses_total",
			"Total number of calls with no eligible rule",
		)
		MatchesByRule = defaultRegistry.NewCounter(
			"wishmock_rule_matching_matches_by_rule",
			"Rule selections by rule key",
			"rule_key",
		)

		RequestsTotal = defaultRegistry.NewCounter(
			"wishmock_requests_total",
			"Total number of RPCs by protocol",
			"protocol", "method", "status",
		)
		ErrorsTotal = defaultRegistry.NewCounter(
			"wishmock_errors_total",
			"Total number of failed RPCs by taxonomy kind",
			"protocol", "kind",
		)
		RequestDuration = defaultRegistry.NewHistogram(
			"wishmock_request_duration_seconds",
			"Duration of RPCs in seconds",
			DefaultBuckets,
			"protocol", "method",
		)
		ActiveStreams = defaultRegistry.NewGauge(
			"wishmock_active_streams",
			"Number of in-flight server streams",
			"protocol",
		)

		Events = NewEventRing(EventRingCapacity)
	})

	return defaultRegistry
}

// DefaultRegistry returns the default metrics registry.
// Returns nil if Init() has not been called.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Reset resets all default metrics and the event ring. Test-only: it also
// resets initOnce, allowing Init() to be called again.
func Reset() {
	initOnce = sync.Once{}
	defaultRegistry = nil
	ValidationChecksTotal = nil
	ValidationFailuresTotal = nil
	ValidationFailuresByType = nil
	MatchAttemptsTotal = nil
	MatchesTotal = nil
	MatchMissesTotal = nil
	MatchesByRule = nil
	RequestsTotal = nil
	ErrorsTotal = nil
	RequestDuration = nil
	ActiveStreams = nil
	Events = nil
}
