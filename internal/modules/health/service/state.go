package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the process health snapshot: readiness, last live tick, and
// the mirrored upstream service statuses. Purely informational; it never
// feeds back into reconciliation.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	lastTickUnix atomic.Int64 // unix seconds

	mu          sync.RWMutex
	upstream    map[string]string // service name -> reported status
	upstreamErr string
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

// SetUpstream replaces the mirrored upstream statuses.
func (s *State) SetUpstream(statuses map[string]string) {
	s.mu.Lock()
	s.upstream = statuses
	s.upstreamErr = ""
	s.mu.Unlock()
}

// SetUpstreamError records a failed poll without dropping the last good
// mirror.
func (s *State) SetUpstreamError(msg string) {
	s.mu.Lock()
	s.upstreamErr = msg
	s.mu.Unlock()
}

func (s *State) Upstream() (map[string]string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.upstream))
	for k, v := range s.upstream {
		out[k] = v
	}
	return out, s.upstreamErr
}
