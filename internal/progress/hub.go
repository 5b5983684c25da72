package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub. Zero values select the
// defaults below.
type Config struct {
	// BufferSize is the capacity of the channel producers write into.
	BufferSize int
	// MaxBatchEvents flushes a batch once it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait flushes a batch this long after its first event.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	// BaseContext is the parent of every sink call.
	BaseContext context.Context
	// Logger receives sink failures.
	Logger *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 64
	defaultMaxBatchWait   = 100 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
)

// Hub is the single consumer of a run's log messages. Any goroutine may Emit;
// one background goroutine batches the events and hands each batch to every
// sink in registration order. Events from one producer reach sinks in the
// order they were emitted.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger
	closed atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the consumer goroutine for sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

// Emit enqueues an Event for batching. When the buffer is full it waits for
// the consumer instead of dropping, so a run log is never missing lines. Once
// Close has been called events are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	case <-h.stopCh:
	}
}

// Close stops intake, delivers everything already queued, closes the sinks
// and waits for the consumer goroutine, or for ctx. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// pending holds the events awaiting delivery and the timer that bounds how
// long the oldest of them may wait.
type pending struct {
	events []Event
	timer  *time.Timer
	armed  bool
}

func (p *pending) arm(d time.Duration) {
	if p.armed {
		return
	}
	p.timer.Reset(d)
	p.armed = true
}

func (p *pending) disarm() {
	if !p.armed {
		return
	}
	if !p.timer.Stop() {
		select {
		case <-p.timer.C:
		default:
		}
	}
	p.armed = false
}

// take hands the queued events over to the caller and starts a fresh batch.
func (p *pending) take() []Event {
	out := p.events
	p.events = make([]Event, 0, cap(out))
	return out
}

func (h *Hub) run() {
	defer close(h.doneCh)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	p := &pending{events: make([]Event, 0, h.cfg.MaxBatchEvents), timer: timer}
	for {
		select {
		case evt := <-h.events:
			h.add(p, evt)
		case <-timer.C:
			p.armed = false
			h.deliver(p.take())
		case <-h.stopCh:
			p.disarm()
			h.drain(p)
			h.closeSinks()
			return
		}
	}
}

// add queues evt, flushing at once when the batch is full. Otherwise the
// batch is flushed MaxBatchWait after its first event.
func (h *Hub) add(p *pending, evt Event) {
	p.events = append(p.events, evt)
	if len(p.events) >= h.cfg.MaxBatchEvents {
		p.disarm()
		h.deliver(p.take())
		return
	}
	p.arm(h.cfg.MaxBatchWait)
}

// drain delivers whatever producers managed to enqueue before Close.
func (h *Hub) drain(p *pending) {
	for {
		select {
		case evt := <-h.events:
			p.events = append(p.events, evt)
			if len(p.events) >= h.cfg.MaxBatchEvents {
				h.deliver(p.take())
			}
		default:
			h.deliver(p.take())
			return
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink != nil {
			h.consume(sink, batch)
		}
	}
}

func (h *Hub) consume(sink Sink, batch []Event) {
	ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
	defer cancel()
	if err := sink.Consume(ctx, batch); err != nil {
		h.logger.Warn("progress sink consume failed",
			zap.Int("events", len(batch)),
			zap.Error(err),
		)
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
