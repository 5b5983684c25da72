package sinks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagemirror/internal/progress"
)

func TestRecorderKeepsNewestEventsPerRun(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(3)
	runA, runB := uuid.New(), uuid.New()
	var batch []progress.Event
	for i := 0; i < 5; i++ {
		batch = append(batch, progress.Event{
			RunID:    progress.UUIDToBytes(runA),
			TS:       time.Now(),
			Severity: progress.SeverityInfo,
			Message:  fmt.Sprintf("msg-%d", i),
		})
	}
	batch = append(batch, progress.Event{
		RunID: progress.UUIDToBytes(runB), TS: time.Now(), Severity: progress.SeverityError, Message: "other",
	})

	require.NoError(t, rec.Consume(context.Background(), batch))

	require.Equal(t, []string{"msg-2", "msg-3", "msg-4"}, messages(rec.Events(runA)))
	require.Equal(t, []string{"other"}, messages(rec.Events(runB)))
	require.Empty(t, rec.Events(uuid.New()))
	require.NoError(t, rec.Close(context.Background()))
}
