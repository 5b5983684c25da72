package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/pagemirror/internal/progress"
)

// PrometheusSink exports run log volume via Prometheus.
type PrometheusSink struct {
	messages *prometheus.CounterVec
	bytes    prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagemirror_log_messages_total",
			Help: "Run log messages partitioned by severity.",
		}, []string{"severity"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagemirror_log_reported_bytes_total",
			Help: "Bytes reported by download completion messages.",
		}),
	}
	for _, collector := range []prometheus.Collector{s.messages, s.bytes} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.messages.WithLabelValues(string(evt.Severity)).Inc()
		if evt.Bytes > 0 {
			s.bytes.Add(float64(evt.Bytes))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
