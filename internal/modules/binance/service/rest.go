package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"candle_dash/internal/modules/config"
)

// DefaultKlineLimit caps one REST snapshot at the most recent N candles.
const DefaultKlineLimit = 300

// Client talks to the upstream exchange: REST for snapshots, websocket
// for the live kline stream the SSE proxy forwards.
type Client struct {
	http     *http.Client
	wsDialer *websocket.Dialer
	restURL  string
	wsURL    string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		http:     &http.Client{Timeout: 10 * time.Second},
		wsDialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		restURL:  cfg.Binance.RestURL,
		wsURL:    cfg.Binance.WsURL,
	}
}

// Kline is one exchange candle on the wire: prices stay string-encoded so
// the proxy route can forward them untouched.
type Kline struct {
	OpenTime int64  `json:"openTime"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
}

// RecentKlines fetches up to limit most-recent candles for symbol at the
// given exchange interval code ("1m", "4h", ...).
//
// Exchange kline array layout (only the first six fields are used):
//
//	[0] open time (int64 ms)  [1] open  [2] high  [3] low  [4] close  [5] volume
func (c *Client) RecentKlines(ctx context.Context, symbol, code string, limit int) ([]Kline, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "binance.klines")
	defer span.Finish()

	if limit <= 0 || limit > DefaultKlineLimit {
		limit = DefaultKlineLimit
	}

	u, err := url.Parse(c.restURL + "/api/v3/klines")
	if err != nil {
		return nil, errors.Wrap(err, "binance: parse url")
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", code)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "binance: build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "binance: http get")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("binance: unexpected status %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "binance: read body")
	}

	var rows [][]json.RawMessage
	if err := sonic.Unmarshal(raw, &rows); err != nil {
		return nil, errors.Wrap(err, "binance: decode response")
	}

	out := make([]Kline, 0, len(rows))
	for i, r := range rows {
		if len(r) < 6 {
			return nil, errors.Errorf("binance: kline[%d] has %d fields, want >=6", i, len(r))
		}
		var openTime int64
		if err := sonic.Unmarshal(r[0], &openTime); err != nil {
			return nil, errors.Wrapf(err, "binance: kline[%d] open time", i)
		}
		out = append(out, Kline{
			OpenTime: openTime,
			Open:     jsonString(r[1]),
			High:     jsonString(r[2]),
			Low:      jsonString(r[3]),
			Close:    jsonString(r[4]),
			Volume:   jsonString(r[5]),
		})
	}
	return out, nil
}

// jsonString strips the quotes off a JSON string token.
func jsonString(raw json.RawMessage) string {
	var s string
	if err := sonic.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}
