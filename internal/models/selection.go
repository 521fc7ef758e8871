package models

import "strconv"

// IntervalMode controls how a selection picks its display interval.
type IntervalMode string

const (
	IntervalFixed IntervalMode = "fixed"
	IntervalAuto  IntervalMode = "auto"
)

// Selection is one (symbol, display interval) pair a dashboard view is
// showing. A selection owns exactly one series store and one live feed.
type Selection struct {
	Symbol      string
	IntervalMin int
	Mode        IntervalMode
}

// Key is the map key for per-selection sessions.
func (s Selection) Key() string {
	return s.Symbol + "|" + strconv.Itoa(s.IntervalMin)
}

// Symbol is a selectable trading symbol mirrored from the internal API.
type Symbol struct {
	ID       string `json:"id"`
	IsActive bool   `json:"is_active"`
}
