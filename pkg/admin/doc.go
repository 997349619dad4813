// Package admin provides the HTTP API for operating a wishmock server:
// status and schema introspection, proto and rule uploads, reloads,
// health probes and Prometheus metrics.
package admin
