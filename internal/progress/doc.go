// Package progress carries run log messages from any goroutine to a single
// consumer. Producers call Emitter.Emit; the Hub drains its channel on one
// background goroutine, batches events and fans them out to sinks such as
// the zap logger, Prometheus counters or the in-memory recorder used by the
// HTTP API.
package progress
