package gateway

import (
	"time"

	"github.com/wishmock/wishmock/pkg/metrics"
)

// Metric globals are nil until metrics.Init, so every recorder checks.

func recordRequest(protocol, method, status string, elapsed time.Duration) {
	if metrics.RequestsTotal != nil {
		if vec, err := metrics.RequestsTotal.WithLabels(protocol, method, status); err == nil {
			vec.Inc()
		}
	}
	if metrics.RequestDuration != nil {
		if vec, err := metrics.RequestDuration.WithLabels(protocol, method); err == nil {
			vec.Observe(elapsed.Seconds())
		}
	}
}

func recordError(protocol, kind string) {
	if metrics.ErrorsTotal != nil {
		if vec, err := metrics.ErrorsTotal.WithLabels(protocol, kind); err == nil {
			vec.Inc()
		}
	}
}

// trackActiveStream bumps the active-stream gauge and returns the matching
// decrement for defer.
func trackActiveStream(protocol string) func() {
	if metrics.ActiveStreams == nil {
		return func() {}
	}
	vec, err := metrics.ActiveStreams.WithLabels(protocol)
	if err != nil {
		return func() {}
	}
	vec.Inc()
	return vec.Dec
}
