// Package server exposes the assistant over HTTP: session control, the
// observable snapshot and transcript, captured records with export and
// import, a websocket event stream, health and Prometheus metrics.
package server
