// Package feed delivers live candle upserts for one selection until
// cancelled. Two transports implement the same contract: a GraphQL
// subscription push and the SSE proxy event stream. Arrival order is not
// time order; the series store's sorted insert handles that.
package feed

import (
	"context"

	"candle_dash/internal/models"
)

// Status is the explicit per-feed state machine:
//
//	Idle → Connecting → Connected → {Disconnected | Error}
//
// Disconnected and Error are terminal; resuming means building a new feed
// instance for the (possibly new) selection.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// Handler receives each parsed upsert in arrival order.
type Handler func(models.Candle)

// StatusFunc receives every state transition; err is non-nil only for
// StatusError.
type StatusFunc func(Status, error)

// Feed is the consumption contract: start once, close once. Close (or the
// parent context) cancels the transport; late events are not delivered.
type Feed interface {
	Start(ctx context.Context)
	Close()
}
