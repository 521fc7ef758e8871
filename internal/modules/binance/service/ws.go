package service

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"candle_dash/pkg/logger"
)

// wsKlineMsg is the exchange kline stream envelope.
type wsKlineMsg struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		IsClosed bool   `json:"x"`
	} `json:"k"`
}

// StreamKlines opens the upstream kline stream for one symbol/interval and
// forwards every tick on the returned channel. The channel closes when the
// stream ends; errCh then carries the terminal error, or nothing for a
// clean context cancellation. No reconnection happens here: the stream
// lives exactly as long as its consumer (the SSE proxy request).
func (c *Client) StreamKlines(ctx context.Context, symbol, code string) (<-chan Kline, <-chan error, error) {
	streamName := strings.ToLower(symbol) + "@kline_" + code
	u := c.wsURL + "/" + streamName

	conn, _, err := c.wsDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "binance ws dial")
	}

	ticks := make(chan Kline)
	errCh := make(chan error, 1)

	// Drop the connection as soon as the consumer goes away.
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	go func() {
		defer close(ticks)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errCh <- errors.Wrap(err, "binance ws read")
				}
				return
			}

			var msg wsKlineMsg
			if err := sonic.Unmarshal(raw, &msg); err != nil {
				logger.Warn("binance ws [%s]: bad frame: %v", streamName, err)
				continue
			}
			if msg.EventType != "kline" {
				continue
			}

			k := Kline{
				OpenTime: msg.Kline.OpenTime,
				Open:     msg.Kline.Open,
				High:     msg.Kline.High,
				Low:      msg.Kline.Low,
				Close:    msg.Kline.Close,
				Volume:   msg.Kline.Volume,
			}

			select {
			case ticks <- k:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ticks, errCh, nil
}
