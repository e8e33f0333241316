package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"options_go/internal/domain"
)

// SnapshotSink is the engine side of the market data path.
type SnapshotSink interface {
	UpdateMarketData(update domain.MarketUpdate) error
	Snapshot() domain.MarketSnapshot
	Symbol() string
}

// SnapshotObserver is notified with the merged snapshot after every update.
type SnapshotObserver func(s domain.MarketSnapshot)

type expirationEntry struct {
	list      []string
	updatedAt time.Time
}

// MarketService merges feed updates into the engine snapshot and caches the
// expirations listed for each underlying. It serves as the engine's
// MarketDataFeed.
type MarketService struct {
	mu          sync.RWMutex
	sink        SnapshotSink
	observers   []SnapshotObserver
	expirations map[string]expirationEntry
	updates     uint64
	rejected    uint64
	lastUpdate  time.Time

	source domain.MarketDataFeed // optional upstream for cache misses
	ttl    time.Duration
	group  singleflight.Group
	now    func() time.Time
}

// NewMarketService creates a service. source may be nil when expirations are
// only pushed through SetExpirations.
func NewMarketService(source domain.MarketDataFeed, ttl time.Duration) *MarketService {
	return &MarketService{
		expirations: make(map[string]expirationEntry),
		source:      source,
		ttl:         ttl,
		now:         time.Now,
	}
}

// Attach connects the service to the engine. Must be called before events flow.
func (s *MarketService) Attach(sink SnapshotSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Observe registers fn for snapshot notifications.
func (s *MarketService) Observe(fn SnapshotObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// ApplyMarketUpdate forwards u to the engine and notifies observers.
func (s *MarketService) ApplyMarketUpdate(u domain.MarketUpdate) error {
	s.mu.RLock()
	sink := s.sink
	observers := s.observers
	s.mu.RUnlock()
	if sink == nil {
		return fmt.Errorf("%w: market service not attached", domain.ErrMarketDataUnavailable)
	}

	if err := sink.UpdateMarketData(u); err != nil {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.updates++
	s.lastUpdate = s.now()
	s.mu.Unlock()

	if len(observers) > 0 {
		snap := sink.Snapshot()
		for _, fn := range observers {
			fn(snap)
		}
	}
	return nil
}

// SetExpirations replaces the cached listing for symbol.
func (s *MarketService) SetExpirations(symbol string, expirations []string) {
	list := append([]string(nil), expirations...)
	sort.Strings(list)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirations[symbol] = expirationEntry{list: list, updatedAt: s.now()}
	slog.Debug("Expirations cached", slog.String("symbol", symbol), slog.Int("count", len(list)))
}

// AvailableExpirations returns the listing for the engine's current
// underlying. Stale or missing entries are fetched from the upstream source
// once, even when several callers ask at the same time.
func (s *MarketService) AvailableExpirations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	sink := s.sink
	var symbol string
	if sink != nil {
		symbol = sink.Symbol()
	}
	entry, ok := s.expirations[symbol]
	s.mu.RUnlock()

	fresh := ok && (s.ttl <= 0 || s.now().Sub(entry.updatedAt) < s.ttl)
	if fresh && len(entry.list) > 0 {
		return append([]string(nil), entry.list...), nil
	}
	if s.source == nil {
		if ok && len(entry.list) > 0 {
			return append([]string(nil), entry.list...), nil
		}
		return nil, fmt.Errorf("%w: nothing listed for %q", domain.ErrNoExpirationAvailable, symbol)
	}

	v, err, _ := s.group.Do(symbol, func() (interface{}, error) {
		list, err := s.source.AvailableExpirations(ctx)
		if err != nil {
			return nil, err
		}
		s.SetExpirations(symbol, list)
		return list, nil
	})
	if err != nil {
		if ok && len(entry.list) > 0 {
			slog.Warn("Expiration refresh failed, serving cached list", slog.String("symbol", symbol), slog.Any("error", err))
			return append([]string(nil), entry.list...), nil
		}
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

// Stats reports how many updates were applied and rejected.
func (s *MarketService) Stats() (applied, rejected uint64, last time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates, s.rejected, s.lastUpdate
}
