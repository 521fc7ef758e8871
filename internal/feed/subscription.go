package feed

import (
	"context"
	"strconv"
	"sync"

	"github.com/bytedance/sonic"

	"candle_dash/internal/models"
	gqlsvc "candle_dash/internal/modules/graphql/service"
	gwssvc "candle_dash/internal/modules/graphqlws/service"
	"candle_dash/pkg/logger"
)

const klineUpdatedSubscription = `subscription KlineUpdated($symbol: String!, $interval: String!) {
  klineUpdated(symbol: $symbol, interval: $interval) {
    symbol interval candleTime open high low close volume
  }
}`

// Subscriber is the slice of the graphql-ws client a feed needs.
type Subscriber interface {
	Subscribe(ctx context.Context, query string, vars map[string]any) (*gwssvc.Subscription, error)
}

// SubscriptionFeed is the push variant: one klineUpdated subscription per
// selection, at the feed's native granularity. Payloads reporting any
// other interval are dropped before they reach the store.
type SubscriptionFeed struct {
	subs        Subscriber
	sel         models.Selection
	intervalMin int // subscribed (native) granularity
	onCandle    Handler
	onStatus    StatusFunc

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewSubscriptionFeed(subs Subscriber, sel models.Selection, intervalMin int, onCandle Handler, onStatus StatusFunc) *SubscriptionFeed {
	return &SubscriptionFeed{
		subs:        subs,
		sel:         sel,
		intervalMin: intervalMin,
		onCandle:    onCandle,
		onStatus:    onStatus,
	}
}

func (f *SubscriptionFeed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	go f.run(ctx)
}

func (f *SubscriptionFeed) Close() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Unlock()
}

func (f *SubscriptionFeed) run(ctx context.Context) {
	f.onStatus(StatusConnecting, nil)

	wantInterval := strconv.Itoa(f.intervalMin)
	vars := map[string]any{
		"symbol":   f.sel.Symbol,
		"interval": wantInterval,
	}
	sub, err := f.subs.Subscribe(ctx, klineUpdatedSubscription, vars)
	if err != nil {
		f.onStatus(StatusError, err)
		return
	}

	f.onStatus(StatusConnected, nil)

	for data := range sub.Events {
		var envelope struct {
			KlineUpdated gqlsvc.KlineRow `json:"klineUpdated"`
		}
		if err := sonic.Unmarshal(data, &envelope); err != nil {
			logger.Warn("feed %s: bad update payload: %v", f.sel.Key(), err)
			continue
		}
		row := envelope.KlineUpdated

		// Selection mismatch: silent discard, not an error.
		if row.Interval != wantInterval {
			continue
		}

		openTime, err := models.ParseCandleTime(row.CandleTime)
		if err != nil {
			logger.Warn("feed %s: drop update: %v", f.sel.Key(), err)
			continue
		}
		c, err := models.CandleFromStrings(openTime, row.Open, row.High, row.Low, row.Close, row.Volume)
		if err != nil {
			logger.Warn("feed %s: drop update @%d: %v", f.sel.Key(), openTime, err)
			continue
		}
		f.onCandle(c)
	}

	// Channel closed: graceful complete vs transport error.
	if err := sub.Err(); err != nil && ctx.Err() == nil {
		f.onStatus(StatusError, err)
		return
	}
	f.onStatus(StatusDisconnected, nil)
}
