package store

import (
	"sync"

	"github.com/0xc0d3d00d/tickerd/internal/domain"
)

type seriesKey struct {
	symbol    string
	timeframe string
}

// BarStore keeps a bounded history of finalized bars per (symbol,
// timeframe). Series are fixed at construction from the symbol registry and
// the timeframe catalog.
type BarStore struct {
	mu    sync.RWMutex
	rings map[seriesKey]*ring[domain.Bar]
}

func NewBarStore(symbols []string, catalog *domain.Catalog, capacity int) *BarStore {
	rings := make(map[seriesKey]*ring[domain.Bar], len(symbols)*len(catalog.Timeframes()))
	for _, symbol := range symbols {
		for _, tf := range catalog.Timeframes() {
			rings[seriesKey{symbol: symbol, timeframe: tf.Name}] = newRing[domain.Bar](capacity)
		}
	}
	return &BarStore{rings: rings}
}

func (s *BarStore) Add(bar domain.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rings[seriesKey{symbol: bar.Symbol, timeframe: bar.Timeframe}]
	if !ok {
		return
	}
	r.push(bar)
}

// Bars returns a snapshot of the series in chronological order. Unknown
// series yield an empty slice, not an error.
func (s *BarStore) Bars(symbol, timeframe string) []domain.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rings[seriesKey{symbol: symbol, timeframe: timeframe}]
	if !ok {
		return []domain.Bar{}
	}
	return r.snapshot()
}
