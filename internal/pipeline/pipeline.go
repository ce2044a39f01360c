package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/0xc0d3d00d/tickerd/internal/analytics"
	"github.com/0xc0d3d00d/tickerd/internal/domain"
	"github.com/0xc0d3d00d/tickerd/internal/metrics"
	"github.com/0xc0d3d00d/tickerd/internal/resample"
	"github.com/0xc0d3d00d/tickerd/internal/store"
)

// Archive is the durable sink for finalized bars.
type Archive interface {
	Insert(ctx context.Context, bar domain.Bar) error
}

// Pipeline owns the ingestion path: ticks submitted by the feed adapter are
// consumed by a single goroutine that updates the tick store, drives the
// resampler, persists finalized bars, recomputes analytics and fans the raw
// tick out to subscribers. Running exactly one consumer is what keeps
// resampler state single-writer and bucket advancement well defined.
type Pipeline struct {
	ticks     chan domain.Tick
	tickStore *store.TickStore
	resampler *resample.Resampler
	engine    *analytics.Engine
	archive   Archive
	metrics   *metrics.Metrics

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func New(tickStore *store.TickStore, resampler *resample.Resampler, engine *analytics.Engine, archive Archive, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		ticks:     make(chan domain.Tick, 1024),
		tickStore: tickStore,
		resampler: resampler,
		engine:    engine,
		archive:   archive,
		metrics:   m,
		subs:      make(map[*Subscriber]struct{}),
	}
}

// Submit hands a tick to the ingestion loop, blocking until it is accepted
// or the context is cancelled.
func (p *Pipeline) Submit(ctx context.Context, tick domain.Tick) error {
	select {
	case p.ticks <- tick:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes submitted ticks until the context is cancelled. It is the
// sole mutator of resampler state.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-p.ticks:
			p.process(ctx, tick)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, tick domain.Tick) {
	p.tickStore.Add(tick)
	if p.metrics != nil {
		p.metrics.TickIngested(ctx, tick.Symbol)
	}

	for _, bar := range p.resampler.Apply(tick) {
		if p.metrics != nil {
			p.metrics.BarFinalized(ctx, bar.Symbol, bar.Timeframe)
		}
		if err := p.archive.Insert(ctx, bar); err != nil {
			// The bar stays queryable via the in-memory store; losing it on
			// restart is an accepted failure mode.
			slog.ErrorContext(ctx, "failed to persist bar",
				"symbol", bar.Symbol, "timeframe", bar.Timeframe, "timestamp", bar.Timestamp, "error", err)
			if p.metrics != nil {
				p.metrics.ArchiveWriteFailed(ctx)
			}
		}
	}

	result := p.engine.Compute(tick.Symbol, p.tickStore.Ticks(tick.Symbol))
	for _, alert := range result.Alerts {
		// Alerts are surfaced, not routed or persisted.
		slog.WarnContext(ctx, "alert triggered",
			"type", alert.Type, "symbol", alert.Symbol, "value", alert.Value, "message", alert.Message)
		if p.metrics != nil {
			p.metrics.AlertTriggered(ctx, alert.Symbol)
		}
	}

	payload, err := json.Marshal(tick)
	if err != nil {
		slog.ErrorContext(ctx, "failed to serialize tick", "symbol", tick.Symbol, "error", err)
		return
	}
	p.broadcast(ctx, payload)
}

// Subscribe registers a new subscriber for the raw tick stream. There is no
// replay of history on connect.
func (p *Pipeline) Subscribe(ctx context.Context, buffer int) *Subscriber {
	sub := newSubscriber(buffer)

	p.mu.Lock()
	p.subs[sub] = struct{}{}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SubscriberAdded(ctx)
	}
	return sub
}

// Unsubscribe removes the subscriber and closes its message channel. It is
// idempotent.
func (p *Pipeline) Unsubscribe(ctx context.Context, sub *Subscriber) {
	p.mu.Lock()
	_, ok := p.subs[sub]
	delete(p.subs, sub)
	p.mu.Unlock()

	if !ok {
		return
	}
	sub.close()
	if p.metrics != nil {
		p.metrics.SubscriberRemoved(ctx, false)
	}
}

// broadcast attempts one send per subscriber. A full buffer marks the
// subscriber for removal; a failed subscriber never blocks the others or
// aborts the loop.
func (p *Pipeline) broadcast(ctx context.Context, payload []byte) {
	p.mu.Lock()
	var dead []*Subscriber
	for sub := range p.subs {
		select {
		case sub.ch <- payload:
		default:
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		delete(p.subs, sub)
	}
	p.mu.Unlock()

	for _, sub := range dead {
		sub.close()
		slog.DebugContext(ctx, "dropped slow subscriber")
		if p.metrics != nil {
			p.metrics.SubscriberRemoved(ctx, true)
		}
	}
}
