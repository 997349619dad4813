// Package metrics provides process-wide counters, gauges and histograms for
// wishmock, exposed in Prometheus text format on the admin port.
//
// Metrics are registered on a Registry and accessed through package-level
// variables initialized by Init(). Counters are monotonic for the lifetime of
// the process; Reset() exists for tests only.
//
// The package also holds the bounded ring of recent validation events
// (EventRing) surfaced by the admin API.
package metrics
