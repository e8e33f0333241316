package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"options_go/internal/domain"
	"options_go/internal/event"
)

// OrderHandler consumes broker events.
type OrderHandler interface {
	HandleOrderStatus(ctx context.Context, st domain.OrderStatus)
	HandleConnection(ctx context.Context, connected bool)
}

// MarketHandler consumes data feed events.
type MarketHandler interface {
	ApplyMarketUpdate(u domain.MarketUpdate) error
	SetExpirations(symbol string, expirations []string)
}

// EventStore persists every processed event.
type EventStore interface {
	SaveEvent(ctx context.Context, ev event.Event) error
}

// EventMetrics records sequencer throughput.
type EventMetrics interface {
	RecordEvent(latency time.Duration)
	RecordError()
}

// Sequencer serializes gateway and feed events onto a single goroutine
// before they reach the engine, so callbacks from different connections
// never interleave.
type Sequencer struct {
	inbox   chan event.Event
	nextSeq uint64
	store   EventStore
	metrics EventMetrics

	orders OrderHandler
	market MarketHandler

	// Boundary: used to dump engine state after a recovered panic
	stateFn func() any

	mu        sync.RWMutex // Used only for external reads
	processed map[event.Type]uint64
	lastSeq   uint64
}

// NewSequencer creates a new sequencer instance.
func NewSequencer(inboxSize int, store EventStore, orders OrderHandler, market MarketHandler) *Sequencer {
	return &Sequencer{
		inbox:     make(chan event.Event, inboxSize),
		nextSeq:   1,
		store:     store,
		orders:    orders,
		market:    market,
		processed: make(map[event.Type]uint64),
	}
}

// Attach sets the handlers. Gateways need the inbox before the engine
// exists, so handlers may be bound after construction but before Run.
func (s *Sequencer) Attach(orders OrderHandler, market MarketHandler) {
	s.orders = orders
	s.market = market
}

// WithMetrics attaches a throughput recorder.
func (s *Sequencer) WithMetrics(m EventMetrics) *Sequencer {
	s.metrics = m
	return s
}

// WithStateDump sets the function whose result is written by DumpState.
func (s *Sequencer) WithStateDump(fn func() any) *Sequencer {
	s.stateFn = fn
	return s
}

// Inbox returns the event channel. External workers send events here.
func (s *Sequencer) Inbox() chan<- event.Event {
	return s.inbox
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...")
			return
		case ev := <-s.inbox:
			s.safeProcess(ctx, ev)
		}
	}
}

// safeProcess keeps the loop alive across a handler panic.
func (s *Sequencer) safeProcess(ctx context.Context, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED",
				slog.Any("panic", r),
				slog.String("type", string(ev.GetType())),
				slog.Uint64("seq", ev.GetSeq()))
			if s.metrics != nil {
				s.metrics.RecordError()
			}
			s.DumpState(fmt.Sprintf("panic_dump_%d.json", time.Now().Unix()))
		}
	}()
	s.processEvent(ctx, ev)
}

func (s *Sequencer) processEvent(ctx context.Context, ev event.Event) {
	start := time.Now()

	// 1. Sequence assignment
	ev.SetSeq(s.nextSeq)
	s.nextSeq++

	// 2. Journal
	if s.store != nil {
		if err := s.store.SaveEvent(ctx, ev); err != nil {
			slog.Error("Event journal write failed", slog.Uint64("seq", ev.GetSeq()), slog.Any("error", err))
			if s.metrics != nil {
				s.metrics.RecordError()
			}
		}
	}

	// 3. Logic Dispatch
	switch e := ev.(type) {
	case *event.OrderStatusEvent:
		if s.orders != nil {
			s.orders.HandleOrderStatus(ctx, e.Status)
		}
	case *event.ConnectionEvent:
		if s.orders != nil {
			s.orders.HandleConnection(ctx, e.Connected)
		}
	case *event.MarketUpdateEvent:
		if s.market != nil {
			if err := s.market.ApplyMarketUpdate(e.Update); err != nil && s.metrics != nil {
				s.metrics.RecordError()
			}
		}
	case *event.ExpirationsEvent:
		if s.market != nil {
			s.market.SetExpirations(e.Symbol, e.Expirations)
		}
	default:
		slog.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}

	s.mu.Lock()
	s.processed[ev.GetType()]++
	s.lastSeq = ev.GetSeq()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordEvent(time.Since(start))
	}
	event.Release(ev)
}

// Processed returns the number of handled events of type t (external read).
func (s *Sequencer) Processed(t event.Type) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processed[t]
}

// LastSeq returns the sequence number of the last handled event.
func (s *Sequencer) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// DumpState writes the sequencer counters and engine state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	s.mu.RLock()
	data := struct {
		NextSeq   uint64                `json:"next_seq"`
		Processed map[event.Type]uint64 `json:"processed"`
		State     any                   `json:"state,omitempty"`
	}{
		NextSeq:   s.nextSeq,
		Processed: s.processed,
	}
	if s.stateFn != nil {
		data.State = s.stateFn()
	}
	b, err := json.MarshalIndent(data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	err = os.WriteFile(filename, b, 0644)
	if err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
