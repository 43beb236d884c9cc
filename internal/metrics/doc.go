// Package metrics defines the Prometheus instruments for sessions, audio,
// tool calls, the record store and the HTTP API.
package metrics
