package service

import (
	"context"

	"candle_dash/internal/models"
)

// KlineRow is one candle row as the internal API returns it: numerics are
// string-encoded, candleTime is ISO or epoch-millisecond text.
type KlineRow struct {
	Symbol     string `json:"symbol"`
	Interval   string `json:"interval"`
	CandleTime string `json:"candleTime"`
	Open       string `json:"open"`
	High       string `json:"high"`
	Low        string `json:"low"`
	Close      string `json:"close"`
	Volume     string `json:"volume"`
}

// KlinesInput mirrors the klines(input:) argument shape.
type KlinesInput struct {
	Symbol      string `json:"symbol"`
	IntervalMin int    `json:"intervalMin"`
	Limit       int    `json:"limit,omitempty"`
	Start       int64  `json:"start,omitempty"`
	End         int64  `json:"end,omitempty"`
}

const symbolsQuery = `query { symbols { id is_active } }`

const klinesQuery = `query Klines($input: KlinesInput!) {
  klines(input: $input) { symbol interval candleTime open high low close volume }
}`

const insertSymbolMutation = `mutation InsertSymbol($input: InsertSymbolInput!) {
  insertSymbol(input: $input) { id }
}`

const deleteSymbolMutation = `mutation DeleteSymbol($id: ID!) { deleteSymbol(id: $id) }`

const indexKlineMutation = `mutation IndexKline($symbol: String!) { indexKline(symbol: $symbol) }`

// Symbols returns the active selectable symbols only.
func (c *Client) Symbols(ctx context.Context) ([]models.Symbol, error) {
	var data struct {
		Symbols []models.Symbol `json:"symbols"`
	}
	if err := c.Do(ctx, "symbols", symbolsQuery, nil, &data); err != nil {
		return nil, err
	}
	active := make([]models.Symbol, 0, len(data.Symbols))
	for _, s := range data.Symbols {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return active, nil
}

// Klines fetches a candle batch for one (symbol, interval) pair.
func (c *Client) Klines(ctx context.Context, input KlinesInput) ([]KlineRow, error) {
	var data struct {
		Klines []KlineRow `json:"klines"`
	}
	vars := map[string]any{"input": input}
	if err := c.Do(ctx, "klines", klinesQuery, vars, &data); err != nil {
		return nil, err
	}
	return data.Klines, nil
}

// InsertSymbol registers a new symbol on the internal system.
func (c *Client) InsertSymbol(ctx context.Context, symbol string) error {
	vars := map[string]any{"input": map[string]any{"symbol": symbol}}
	return c.Do(ctx, "insertSymbol", insertSymbolMutation, vars, nil)
}

// DeleteSymbol removes a symbol by id.
func (c *Client) DeleteSymbol(ctx context.Context, id string) error {
	vars := map[string]any{"id": id}
	return c.Do(ctx, "deleteSymbol", deleteSymbolMutation, vars, nil)
}

// IndexKline asks the internal system to (re)index candles for a symbol.
func (c *Client) IndexKline(ctx context.Context, symbol string) error {
	vars := map[string]any{"symbol": symbol}
	return c.Do(ctx, "indexKline", indexKlineMutation, vars, nil)
}
