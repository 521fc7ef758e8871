package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	binsvc "candle_dash/internal/modules/binance/service"
	"candle_dash/pkg/logger"
)

// keepAliveEvery paces the SSE comment frames that keep proxies from
// closing an otherwise quiet stream.
const keepAliveEvery = 15 * time.Second

// handleStream bridges the upstream exchange kline stream into a
// server-sent-events response. The upstream subscription lives exactly as
// long as the HTTP request: client disconnect cancels r.Context(), which
// closes the websocket.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	code := r.URL.Query().Get("interval")
	if symbol == "" || code == "" {
		writeError(w, http.StatusBadRequest, "symbol and interval are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ticks, errCh, err := s.exchange.StreamKlines(r.Context(), symbol, code)
	if err != nil {
		logger.Error("stream proxy %s/%s: %v", symbol, code, err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveEvery)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case tick, open := <-ticks:
			if !open {
				select {
				case err := <-errCh:
					logger.Warn("stream proxy %s/%s: upstream: %v", symbol, code, err)
				default:
				}
				return
			}
			if err := writeStreamEvent(w, tick); err != nil {
				return
			}
			flusher.Flush()
			if s.ticks != nil {
				s.ticks.TouchTick(time.Now())
			}

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeStreamEvent emits one `data: {"candle":{...}}` frame. The wire
// field is startTime to match what the stream consumers expect.
func writeStreamEvent(w http.ResponseWriter, tick binsvc.Kline) error {
	payload, err := sonic.Marshal(map[string]any{
		"candle": map[string]any{
			"startTime": tick.OpenTime,
			"open":      tick.Open,
			"high":      tick.High,
			"low":       tick.Low,
			"close":     tick.Close,
			"volume":    tick.Volume,
		},
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
