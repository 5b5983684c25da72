// Package sinks implements concrete progress consumers: structured logging,
// Prometheus counters, an in-memory recorder for the HTTP API and a
// repository-backed store. Each sink satisfies progress.Sink and is safe for
// repeated Consume/Close cycles.
package sinks
