// Package interval owns the fixed ladder of display granularities and the
// zoom-driven auto selection used by auto-mode views.
package interval

import (
	"time"

	"github.com/pkg/errors"
)

// Ladder is the ascending set of candidate display intervals, in minutes.
// Order is significant: auto selection walks it front to back.
var Ladder = []int{1, 3, 5, 15, 30, 60, 120, 240}

// DefaultTargetBars caps how many bars a visible range may render.
const DefaultTargetBars = 180

// Native is the finest granularity live feeds emit, in minutes.
const Native = 1

// AutoSelect returns the first ladder entry whose bar count over
// visibleRangeMs stays within targetBars. If even the coarsest entry
// overflows, the coarsest is returned.
func AutoSelect(visibleRangeMs int64, ladder []int, targetBars int) int {
	if len(ladder) == 0 {
		ladder = Ladder
	}
	if targetBars <= 0 {
		targetBars = DefaultTargetBars
	}
	for _, min := range ladder {
		intervalMs := int64(min) * 60_000
		if visibleRangeMs <= int64(targetBars)*intervalMs {
			return min
		}
	}
	return ladder[len(ladder)-1]
}

// ExchangeCode maps a ladder interval to the Binance kline code.
// An unmapped interval is a configuration failure and must be surfaced
// before any network call.
func ExchangeCode(intervalMin int) (string, error) {
	switch intervalMin {
	case 1:
		return "1m", nil
	case 3:
		return "3m", nil
	case 5:
		return "5m", nil
	case 15:
		return "15m", nil
	case 30:
		return "30m", nil
	case 60:
		return "1h", nil
	case 120:
		return "2h", nil
	case 240:
		return "4h", nil
	}
	return "", errors.Errorf("interval: no exchange code for %dm", intervalMin)
}

// Duration converts a ladder interval to a time.Duration.
func Duration(intervalMin int) time.Duration {
	return time.Duration(intervalMin) * time.Minute
}
