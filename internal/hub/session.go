package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"candle_dash/internal/feed"
	"candle_dash/internal/interval"
	"candle_dash/internal/models"
	"candle_dash/internal/series"
	"candle_dash/internal/snapshot"
	"candle_dash/pkg/logger"
)

// SessionState is the single tagged state per selection, replacing the
// flag combinations the feeds and loaders would otherwise leak.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateLoading      SessionState = "loading"
	StateStreaming    SessionState = "streaming"
	StateDisconnected SessionState = "disconnected"
	StateError        SessionState = "error"
)

// Session is the reconciliation unit for one selection: one store, one
// feed, one optional pending silent-refresh timer.
type Session struct {
	hub    *Hub
	sel    models.Selection
	source snapshot.Source
	store  *series.Store

	// nativeMin is the granularity the feed actually emits. Updates for a
	// coarser display interval cannot be applied incrementally and
	// schedule a silent refresh instead.
	nativeMin int

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool

	mu           sync.Mutex
	state        SessionState
	stateErr     error
	liveFeed     feed.Feed
	refreshTimer *time.Timer
}

func newSession(h *Hub, sel models.Selection, src snapshot.Source) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	nativeMin := interval.Native
	if src == snapshot.SourceExchange {
		// The exchange stream is opened at the display interval itself.
		nativeMin = sel.IntervalMin
	}

	return &Session{
		hub:       h,
		sel:       sel,
		source:    src,
		store:     series.New(h.opts.MaxCandles),
		nativeMin: nativeMin,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
	}
}

func (s *Session) Selection() models.Selection { return s.sel }

// State returns the current tagged state and, for StateError, its reason.
func (s *Session) State() (SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.stateErr
}

// Candles returns a copy of the reconciled buffer.
func (s *Session) Candles() []models.Candle { return s.store.Candles() }

// Latest returns the newest candle in the buffer.
func (s *Session) Latest() (models.Candle, bool) { return s.store.Latest() }

func (s *Session) setState(state SessionState, err error) {
	s.mu.Lock()
	s.state = state
	s.stateErr = err
	s.mu.Unlock()
}

// start seeds the store and attaches the live feed. The internal source
// seeds here; the exchange stream feed seeds itself through onSnapshot.
func (s *Session) start() {
	s.setState(StateLoading, nil)

	go func() {
		if s.source == snapshot.SourceInternal {
			candles, err := s.hub.loader.Load(s.ctx, s.source, s.sel)
			if s.cancelled.Load() {
				return // late result of a disposed selection
			}
			if err != nil {
				s.store.Clear()
				s.setState(StateError, err)
				return
			}
			s.store.Reseed(candles)
		}

		f := s.hub.newFeed(s.sel, s.source, s.onSnapshot, s.onCandle, s.onStatus)

		s.mu.Lock()
		if s.cancelled.Load() {
			s.mu.Unlock()
			return
		}
		s.liveFeed = f
		s.mu.Unlock()

		f.Start(s.ctx)
	}()
}

func (s *Session) onSnapshot(candles []models.Candle) {
	if s.cancelled.Load() {
		return
	}
	s.store.Reseed(candles)
}

func (s *Session) onCandle(c models.Candle) {
	if s.cancelled.Load() {
		return
	}
	if s.sel.IntervalMin == s.nativeMin {
		s.store.Upsert(c)
		return
	}
	// The feed only emits native-resolution updates; a coarser display
	// interval has to re-aggregate through a full snapshot.
	s.scheduleSilentRefresh()
}

func (s *Session) onStatus(st feed.Status, err error) {
	if s.cancelled.Load() {
		return
	}
	switch st {
	case feed.StatusConnecting:
		s.setState(StateLoading, nil)
	case feed.StatusConnected:
		s.setState(StateStreaming, nil)
	case feed.StatusDisconnected:
		s.setState(StateDisconnected, nil)
	case feed.StatusError:
		if s.source == snapshot.SourceExchange {
			// The stream variant seeds and streams in one unit; a failed
			// open leaves no trustworthy buffer behind.
			s.store.Clear()
		}
		s.setState(StateError, err)
	}
}

// scheduleSilentRefresh arms the debounced snapshot re-fetch. A pending
// timer is never duplicated; disposal clears it.
func (s *Session) scheduleSilentRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshTimer != nil {
		return // refresh already pending
	}
	s.refreshTimer = time.AfterFunc(s.hub.opts.RefreshDebounce, s.silentRefresh)
}

// silentRefresh re-runs the snapshot load. Best-effort: its own failure
// is logged and swallowed, the buffer keeps its last good state.
func (s *Session) silentRefresh() {
	s.mu.Lock()
	s.refreshTimer = nil
	s.mu.Unlock()

	if s.cancelled.Load() {
		return
	}
	candles, err := s.hub.loader.Load(s.ctx, s.source, s.sel)
	if err != nil {
		logger.Warn("silent refresh %s: %v", s.sel.Key(), err)
		return
	}
	if s.cancelled.Load() {
		return
	}
	s.store.Reseed(candles)
}

// dispose tears the session down: no orphaned timers, feeds or late
// snapshot effects survive a selection change.
func (s *Session) dispose() {
	s.cancelled.Store(true)
	s.cancel()

	s.mu.Lock()
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	f := s.liveFeed
	s.liveFeed = nil
	s.state = StateIdle
	s.stateErr = nil
	s.mu.Unlock()

	if f != nil {
		f.Close()
	}
}
