// Package series holds the bounded, time-ordered candle buffer for one
// selection and the merge rules that keep it consistent while snapshots
// and live upserts arrive out of order.
package series

import (
	"sort"
	"sync"

	"candle_dash/internal/models"
)

// DefaultMaxCandles bounds a store when no explicit capacity is given.
const DefaultMaxCandles = 500

// Store is an ordered, deduplicated, capacity-bounded candle collection.
// Invariants after every operation: ascending by OpenTime, unique
// OpenTime, len ≤ max, oldest evicted first.
type Store struct {
	mu  sync.RWMutex
	max int
	buf []models.Candle
}

func New(max int) *Store {
	if max <= 0 {
		max = DefaultMaxCandles
	}
	return &Store{max: max}
}

// Reseed replaces the whole buffer with candles, sorted ascending and
// trimmed to the most recent max entries. Duplicate open times keep the
// last occurrence. An empty input empties the buffer.
func (s *Store) Reseed(candles []models.Candle) {
	next := make([]models.Candle, len(candles))
	copy(next, candles)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].OpenTime < next[j].OpenTime
	})

	// Collapse duplicates in place, keeping the later occurrence.
	out := next[:0]
	for _, c := range next {
		if n := len(out); n > 0 && out[n-1].OpenTime == c.OpenTime {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	if len(out) > s.max {
		out = out[len(out)-s.max:]
	}

	s.mu.Lock()
	s.buf = append([]models.Candle(nil), out...)
	s.mu.Unlock()
}

// Upsert inserts c at its sorted position, or replaces the stored candle
// sharing its open time. Oldest entries are dropped once the buffer
// exceeds capacity. Repeating an identical upsert is a no-op.
func (s *Store) Upsert(c models.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.buf), func(i int) bool {
		return s.buf[i].OpenTime >= c.OpenTime
	})
	if i < len(s.buf) && s.buf[i].OpenTime == c.OpenTime {
		s.buf[i] = c
		return
	}

	s.buf = append(s.buf, models.Candle{})
	copy(s.buf[i+1:], s.buf[i:])
	s.buf[i] = c

	if len(s.buf) > s.max {
		s.buf = append(s.buf[:0], s.buf[len(s.buf)-s.max:]...)
	}
}

// Latest returns the newest candle, ok=false when empty.
func (s *Store) Latest() (models.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.buf) == 0 {
		return models.Candle{}, false
	}
	return s.buf[len(s.buf)-1], true
}

// Candles returns a copy of the current buffer.
func (s *Store) Candles() []models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Candle(nil), s.buf...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

// Clear empties the buffer. Used when a snapshot load fails and the view
// drops into its degraded state.
func (s *Store) Clear() {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
}
