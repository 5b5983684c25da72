package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagemirror/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{RunID: runID, TS: time.Now(), Severity: progress.SeverityInfo, Message: "analyzing page"},
		{RunID: runID, TS: time.Now(), Severity: progress.SeveritySuccess, Message: "downloaded a.png", Bytes: 1024},
		{RunID: runID, TS: time.Now(), Severity: progress.SeverityWarning, Message: "timeout"},
		{RunID: runID, TS: time.Now(), Severity: progress.SeverityWarning, Message: "HTTP 404"},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.messages.WithLabelValues("info")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.messages.WithLabelValues("warning")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.messages.WithLabelValues("error")), 1e-9)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.bytes), 1e-9)
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
