// Package hub owns one session per dashboard selection: it seeds the
// series store from a snapshot, attaches a live feed, applies upserts in
// arrival order and runs the debounced silent refresh for display
// intervals coarser than the feed's native resolution.
package hub

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"candle_dash/internal/feed"
	"candle_dash/internal/interval"
	"candle_dash/internal/models"
	"candle_dash/internal/snapshot"
)

// SnapshotLoader is the slice of the snapshot loader the hub needs.
type SnapshotLoader interface {
	Load(ctx context.Context, src snapshot.Source, sel models.Selection) ([]models.Candle, error)
}

// FeedFactory builds the live feed matching a source. onSnapshot is only
// used by the event-stream variant, which seeds itself.
type FeedFactory func(
	sel models.Selection,
	src snapshot.Source,
	onSnapshot func([]models.Candle),
	onCandle feed.Handler,
	onStatus feed.StatusFunc,
) feed.Feed

// SymbolAPI is the slice of the GraphQL client backing the symbol mirror.
type SymbolAPI interface {
	Symbols(ctx context.Context) ([]models.Symbol, error)
	InsertSymbol(ctx context.Context, symbol string) error
	DeleteSymbol(ctx context.Context, id string) error
	IndexKline(ctx context.Context, symbol string) error
}

// Options tune per-session behavior.
type Options struct {
	MaxCandles      int
	RefreshDebounce time.Duration
	TargetBars      int
	Ladder          []int
}

func (o *Options) defaults() {
	if o.RefreshDebounce <= 0 {
		o.RefreshDebounce = 300 * time.Millisecond
	}
	if o.TargetBars <= 0 {
		o.TargetBars = interval.DefaultTargetBars
	}
	if len(o.Ladder) == 0 {
		o.Ladder = interval.Ladder
	}
}

// Hub manages all live sessions plus the symbol mirror. Failures stay
// scoped to their own session.
type Hub struct {
	loader  SnapshotLoader
	newFeed FeedFactory
	api     SymbolAPI
	opts    Options

	mu       sync.Mutex
	sessions map[string]*Session
	symbols  []models.Symbol
}

func New(loader SnapshotLoader, newFeed FeedFactory, api SymbolAPI, opts Options) *Hub {
	opts.defaults()
	return &Hub{
		loader:   loader,
		newFeed:  newFeed,
		api:      api,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Select starts (or restarts) the session for sel, sourced from src. An
// existing session under the same key is disposed first: feed closed,
// pending debounce cleared, late snapshot results ignored.
func (h *Hub) Select(sel models.Selection, src snapshot.Source) (*Session, error) {
	if !slices.Contains(h.opts.Ladder, sel.IntervalMin) {
		return nil, errors.Errorf("hub: interval %dm is not on the ladder", sel.IntervalMin)
	}

	s := newSession(h, sel, src)

	h.mu.Lock()
	if prev, ok := h.sessions[sel.Key()]; ok {
		prev.dispose()
	}
	h.sessions[sel.Key()] = s
	h.mu.Unlock()

	s.start()
	return s, nil
}

// Session returns the live session for key, if any.
func (h *Hub) Session(key string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[key]
	return s, ok
}

// Close disposes the session for key.
func (h *Hub) Close(key string) {
	h.mu.Lock()
	s, ok := h.sessions[key]
	if ok {
		delete(h.sessions, key)
	}
	h.mu.Unlock()
	if ok {
		s.dispose()
	}
}

// CloseAll disposes every session. Called on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.dispose()
	}
}

// SetVisibleRange re-picks the display interval for an auto-mode session
// after a zoom change. When the ladder choice differs from the current
// interval the session is torn down and re-selected.
func (h *Hub) SetVisibleRange(key string, visibleRangeMs int64) (*Session, error) {
	h.mu.Lock()
	s, ok := h.sessions[key]
	h.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("hub: no session %q", key)
	}
	if s.sel.Mode != models.IntervalAuto {
		return s, nil
	}

	next := interval.AutoSelect(visibleRangeMs, h.opts.Ladder, h.opts.TargetBars)
	if next == s.sel.IntervalMin {
		return s, nil
	}

	h.Close(key)
	sel := s.sel
	sel.IntervalMin = next
	return h.Select(sel, s.source)
}

// Symbols returns the cached mirror, refreshing it when empty.
func (h *Hub) Symbols(ctx context.Context) ([]models.Symbol, error) {
	h.mu.Lock()
	cached := h.symbols
	h.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	return h.RefreshSymbols(ctx)
}

// RefreshSymbols re-reads the selectable symbols from the internal API.
func (h *Hub) RefreshSymbols(ctx context.Context) ([]models.Symbol, error) {
	symbols, err := h.api.Symbols(ctx)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.symbols = symbols
	h.mu.Unlock()
	return symbols, nil
}

// AddSymbol registers a symbol upstream and refreshes the mirror on
// success. The mirror refresh is best-effort.
func (h *Hub) AddSymbol(ctx context.Context, symbol string) error {
	if err := h.api.InsertSymbol(ctx, symbol); err != nil {
		return err
	}
	_, _ = h.RefreshSymbols(ctx)
	return nil
}

// RemoveSymbol deletes a symbol upstream and refreshes the mirror.
func (h *Hub) RemoveSymbol(ctx context.Context, id string) error {
	if err := h.api.DeleteSymbol(ctx, id); err != nil {
		return err
	}
	_, _ = h.RefreshSymbols(ctx)
	return nil
}

// Reindex asks the upstream to rebuild candles for a symbol.
func (h *Hub) Reindex(ctx context.Context, symbol string) error {
	return h.api.IndexKline(ctx, symbol)
}
