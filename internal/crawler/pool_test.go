package crawler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolKeepsOutcomesAligned(t *testing.T) {
	t.Parallel()

	refs := make([]ResourceRef, 20)
	for i := range refs {
		refs[i] = ResourceRef{URL: fmt.Sprintf("https://site.test/%d.png", i)}
	}
	pool := NewPool(4, func(_ context.Context, ref ResourceRef) Outcome {
		// Vary completion order.
		time.Sleep(time.Duration(len(ref.URL)%3) * time.Millisecond)
		return Outcome{Path: ref.URL, Status: OutcomeFetched}
	}, nil)

	outcomes := pool.Run(context.Background(), refs)
	require.Len(t, outcomes, len(refs))
	for i, out := range outcomes {
		assert.Equal(t, refs[i].URL, out.Path)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	pool := NewPool(3, func(context.Context, ResourceRef) Outcome {
		n := inFlight.Add(1)
		for {
			cur := peak.Load()
			if n <= cur || peak.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return Outcome{Status: OutcomeFetched}
	}, nil)

	pool.Run(context.Background(), make([]ResourceRef, 12))
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestPoolRecoversPanics(t *testing.T) {
	t.Parallel()

	pool := NewPool(2, func(_ context.Context, ref ResourceRef) Outcome {
		if ref.URL == "boom" {
			panic("decoder exploded")
		}
		return Outcome{Path: ref.URL, Status: OutcomeFetched}
	}, nil)

	outcomes := pool.Run(context.Background(), []ResourceRef{{URL: "a"}, {URL: "boom"}, {URL: "c"}})
	assert.True(t, outcomes[0].Fetched())
	assert.Equal(t, OutcomeFailed, outcomes[1].Status)
	assert.ErrorIs(t, outcomes[1].Err, ErrNotFetched)
	assert.True(t, outcomes[2].Fetched())
}

func TestPoolEmptyBatch(t *testing.T) {
	t.Parallel()

	pool := NewPool(0, func(context.Context, ResourceRef) Outcome {
		t.Fatal("download must not be called")
		return Outcome{}
	}, nil)
	assert.Empty(t, pool.Run(context.Background(), nil))
}
