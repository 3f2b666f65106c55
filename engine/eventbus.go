package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"learnledger/core"
)

// DispatchMode selects how Publish hands events to handlers.
type DispatchMode int

const (
	// DispatchSync runs handlers inline on the publishing goroutine. The
	// dispatcher publishes inside its per-user critical section, so sync
	// handlers must stay fast.
	DispatchSync DispatchMode = iota
	// DispatchAsync queues events to a worker pool and never blocks the
	// event pipeline; the queue sheds load by dropping when full.
	DispatchAsync
)

const (
	asyncQueueSize   = 2048
	asyncWorkerCount = 4
)

type handler func(context.Context, core.Event)

// allEvents is the registry key for handlers that want every ledger event.
const allEvents core.EventType = "*"

// EventBus fans ledger events (points earned, level up, streak extended,
// achievement unlocked) out to handlers, either inline or through a bounded
// async queue.
type EventBus struct {
	mode DispatchMode

	mu     sync.RWMutex
	byType map[core.EventType]map[int64]handler
	nextID int64

	queue   chan core.Event
	dropped atomic.Uint64
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

func NewEventBus(mode DispatchMode) *EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &EventBus{
		mode:   mode,
		byType: make(map[core.EventType]map[int64]handler),
		queue:  make(chan core.Event, asyncQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	if mode == DispatchAsync {
		b.workers.Add(asyncWorkerCount)
		for i := 0; i < asyncWorkerCount; i++ {
			go b.work()
		}
	}
	return b
}

func (b *EventBus) work() {
	defer b.workers.Done()
	for {
		select {
		case ev := <-b.queue:
			b.deliver(context.Background(), ev)
		case <-b.ctx.Done():
			// drain what was already queued before stopping
			for {
				select {
				case ev := <-b.queue:
					b.deliver(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

// Close stops the async workers after draining the queue. Publishing after
// Close is a silent no-op.
func (b *EventBus) Close() {
	b.cancel()
	b.workers.Wait()
}

func (b *EventBus) register(key core.EventType, fn handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.byType[key] == nil {
		b.byType[key] = make(map[int64]handler)
	}
	b.byType[key][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.byType[key], id)
	}
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe func.
func (b *EventBus) Subscribe(typ core.EventType, fn func(context.Context, core.Event)) func() {
	return b.register(typ, fn)
}

// SubscribeAll registers a handler for every event type. Bridges to the
// realtime hub and webhook sink use this instead of one subscription per
// type.
func (b *EventBus) SubscribeAll(fn func(context.Context, core.Event)) func() {
	return b.register(allEvents, fn)
}

// Publish hands the event to subscribers. In async mode a full queue drops
// the event rather than stalling the ledger pipeline; Dropped counts the
// losses.
func (b *EventBus) Publish(ctx context.Context, ev core.Event) {
	if b.mode != DispatchAsync {
		b.deliver(ctx, ev)
		return
	}
	select {
	case b.queue <- ev:
	case <-b.ctx.Done():
	default:
		b.dropped.Add(1)
	}
}

// Dropped reports how many events the async queue has shed since start.
func (b *EventBus) Dropped() uint64 { return b.dropped.Load() }

func (b *EventBus) deliver(ctx context.Context, ev core.Event) {
	b.mu.RLock()
	fns := make([]handler, 0, len(b.byType[ev.Type])+len(b.byType[allEvents]))
	for _, fn := range b.byType[ev.Type] {
		fns = append(fns, fn)
	}
	for _, fn := range b.byType[allEvents] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	// handlers run outside the lock so they may unsubscribe themselves
	for _, fn := range fns {
		fn(ctx, ev)
	}
}
