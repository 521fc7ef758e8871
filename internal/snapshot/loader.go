// Package snapshot turns a raw candle batch from either source into the
// normalized, ordered input shape the series store reseeds from.
package snapshot

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"candle_dash/internal/interval"
	"candle_dash/internal/models"
	binsvc "candle_dash/internal/modules/binance/service"
	gqlsvc "candle_dash/internal/modules/graphql/service"
	"candle_dash/pkg/logger"
)

// Source names where a snapshot comes from.
type Source string

const (
	SourceInternal Source = "internal"
	SourceExchange Source = "exchange"
)

// KlineQuerier is the slice of the GraphQL client the loader needs.
type KlineQuerier interface {
	Klines(ctx context.Context, input gqlsvc.KlinesInput) ([]gqlsvc.KlineRow, error)
}

// ExchangeKlines is the slice of the exchange client the loader needs.
type ExchangeKlines interface {
	RecentKlines(ctx context.Context, symbol, code string, limit int) ([]binsvc.Kline, error)
}

// Loader fetches an initial candle batch for a selection. Rows that fail
// to parse are dropped silently; transport failures surface to the caller
// who clears its store and enters the degraded state.
type Loader struct {
	gql      KlineQuerier
	exchange ExchangeKlines
	limit    int
}

func NewLoader(gql KlineQuerier, exchange ExchangeKlines, limit int) *Loader {
	if limit <= 0 {
		limit = binsvc.DefaultKlineLimit
	}
	return &Loader{gql: gql, exchange: exchange, limit: limit}
}

// Load fetches, parses and sorts one snapshot.
func (l *Loader) Load(ctx context.Context, src Source, sel models.Selection) ([]models.Candle, error) {
	switch src {
	case SourceInternal:
		return l.loadInternal(ctx, sel)
	case SourceExchange:
		return l.loadExchange(ctx, sel)
	}
	return nil, errors.Errorf("snapshot: unknown source %q", src)
}

func (l *Loader) loadInternal(ctx context.Context, sel models.Selection) ([]models.Candle, error) {
	rows, err := l.gql.Klines(ctx, gqlsvc.KlinesInput{
		Symbol:      sel.Symbol,
		IntervalMin: sel.IntervalMin,
		Limit:       l.limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "snapshot internal")
	}

	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		openTime, err := models.ParseCandleTime(row.CandleTime)
		if err != nil {
			logger.Warn("snapshot: drop row %s/%s: %v", sel.Symbol, row.CandleTime, err)
			continue
		}
		c, err := models.CandleFromStrings(openTime, row.Open, row.High, row.Low, row.Close, row.Volume)
		if err != nil {
			logger.Warn("snapshot: drop row %s@%d: %v", sel.Symbol, openTime, err)
			continue
		}
		out = append(out, c)
	}
	sortCandles(out)
	return out, nil
}

func (l *Loader) loadExchange(ctx context.Context, sel models.Selection) ([]models.Candle, error) {
	// Configuration failure must surface before any network call.
	code, err := interval.ExchangeCode(sel.IntervalMin)
	if err != nil {
		return nil, err
	}

	klines, err := l.exchange.RecentKlines(ctx, sel.Symbol, code, l.limit)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot exchange")
	}

	out := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := models.CandleFromStrings(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			logger.Warn("snapshot: drop kline %s@%d: %v", sel.Symbol, k.OpenTime, err)
			continue
		}
		out = append(out, c)
	}
	sortCandles(out)
	return out, nil
}

func sortCandles(cs []models.Candle) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].OpenTime < cs[j].OpenTime })
}
