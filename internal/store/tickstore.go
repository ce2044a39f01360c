package store

import (
	"sync"

	"github.com/0xc0d3d00d/tickerd/internal/domain"
)

// TickStore keeps a bounded history of raw ticks per symbol. The symbol set
// is fixed at construction; ticks for unregistered symbols are dropped
// rather than growing the key space.
type TickStore struct {
	mu    sync.RWMutex
	rings map[string]*ring[domain.Tick]
}

func NewTickStore(symbols []string, capacity int) *TickStore {
	rings := make(map[string]*ring[domain.Tick], len(symbols))
	for _, symbol := range symbols {
		rings[symbol] = newRing[domain.Tick](capacity)
	}
	return &TickStore{rings: rings}
}

func (s *TickStore) Add(tick domain.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rings[tick.Symbol]
	if !ok {
		return
	}
	r.push(tick)
}

// Ticks returns a snapshot of the symbol's buffer, oldest first. Unknown
// symbols yield an empty slice, not an error.
func (s *TickStore) Ticks(symbol string) []domain.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rings[symbol]
	if !ok {
		return []domain.Tick{}
	}
	return r.snapshot()
}
