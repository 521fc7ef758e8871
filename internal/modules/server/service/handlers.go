package service

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"candle_dash/internal/hub"
	"candle_dash/internal/models"
	binsvc "candle_dash/internal/modules/binance/service"
	"candle_dash/internal/snapshot"
	"candle_dash/pkg/logger"
)

// Exchange is the slice of the upstream client the routes need.
type Exchange interface {
	RecentKlines(ctx context.Context, symbol, code string, limit int) ([]binsvc.Kline, error)
	StreamKlines(ctx context.Context, symbol, code string) (<-chan binsvc.Kline, <-chan error, error)
}

// TickRecorder notes live stream activity for the health surface.
type TickRecorder interface {
	TouchTick(t time.Time)
}

// Server carries the public dashboard API plus the two thin exchange
// proxy routes the event-stream feed (and the browser) consume.
type Server struct {
	hub      *hub.Hub
	exchange Exchange
	ticks    TickRecorder // optional
}

func NewServer(h *hub.Hub, exchange Exchange, ticks TickRecorder) *Server {
	return &Server{hub: h, exchange: exchange, ticks: ticks}
}

// NewMux registers all public routes.
func NewMux(s *Server) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/binance/candles", s.handleCandles)
	mux.HandleFunc("GET /api/binance/stream", s.handleStream)

	mux.HandleFunc("GET /api/symbols", s.handleSymbols)
	mux.HandleFunc("POST /api/symbols", s.handleAddSymbol)
	mux.HandleFunc("DELETE /api/symbols/{id}", s.handleRemoveSymbol)
	mux.HandleFunc("POST /api/symbols/{symbol}/index", s.handleReindex)

	mux.HandleFunc("POST /api/selections", s.handleSelect)
	mux.HandleFunc("DELETE /api/selections", s.handleUnselect)
	mux.HandleFunc("PUT /api/selections/range", s.handleVisibleRange)
	mux.HandleFunc("GET /api/series", s.handleSeries)

	return mux
}

// candleJSON is the public candle shape; volume is omitted when absent.
type candleJSON struct {
	OpenTime int64    `json:"openTime"`
	Open     float64  `json:"open"`
	High     float64  `json:"high"`
	Low      float64  `json:"low"`
	Close    float64  `json:"close"`
	Volume   *float64 `json:"volume,omitempty"`
}

func toCandleJSON(cs []models.Candle) []candleJSON {
	out := make([]candleJSON, len(cs))
	for i, c := range cs {
		out[i] = candleJSON{
			OpenTime: c.OpenTime,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
		}
	}
	return out
}

// handleCandles proxies the most-recent exchange klines, string numerics
// preserved.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	code := r.URL.Query().Get("interval")
	if symbol == "" || code == "" {
		writeError(w, http.StatusBadRequest, "symbol and interval are required")
		return
	}

	klines, err := s.exchange.RecentKlines(r.Context(), symbol, code, 0)
	if err != nil {
		logger.Error("candles proxy %s/%s: %v", symbol, code, err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"candles": klines})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.hub.Symbols(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbols": symbols})
}

func (s *Server) handleAddSymbol(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbol string `json:"symbol"`
	}
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&body); err != nil || body.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if err := s.hub.AddSymbol(r.Context(), body.Symbol); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRemoveSymbol(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.hub.RemoveSymbol(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if err := s.hub.Reindex(r.Context(), symbol); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type selectRequest struct {
	Symbol      string `json:"symbol"`
	IntervalMin int    `json:"intervalMin"`
	Mode        string `json:"mode,omitempty"`   // fixed | auto
	Source      string `json:"source,omitempty"` // internal | exchange
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var body selectRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad selection body")
		return
	}
	if body.Symbol == "" || body.IntervalMin <= 0 {
		writeError(w, http.StatusBadRequest, "symbol and intervalMin are required")
		return
	}

	mode := models.IntervalFixed
	if body.Mode == string(models.IntervalAuto) {
		mode = models.IntervalAuto
	}
	src := snapshot.SourceInternal
	if body.Source == string(snapshot.SourceExchange) {
		src = snapshot.SourceExchange
	}

	sel := models.Selection{Symbol: body.Symbol, IntervalMin: body.IntervalMin, Mode: mode}
	session, err := s.hub.Select(sel, src)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, _ := session.State()
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":    sel.Key(),
		"status": state,
	})
}

func (s *Server) handleUnselect(w http.ResponseWriter, r *http.Request) {
	key, ok := selectionKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "symbol and intervalMin are required")
		return
	}
	s.hub.Close(key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVisibleRange(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbol         string `json:"symbol"`
		IntervalMin    int    `json:"intervalMin"`
		VisibleRangeMs int64  `json:"visibleRangeMs"`
	}
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&body); err != nil || body.VisibleRangeMs <= 0 {
		writeError(w, http.StatusBadRequest, "bad range body")
		return
	}

	key := models.Selection{Symbol: body.Symbol, IntervalMin: body.IntervalMin}.Key()
	session, err := s.hub.SetVisibleRange(key, body.VisibleRangeMs)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":         session.Selection().Key(),
		"intervalMin": session.Selection().IntervalMin,
	})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	key, ok := selectionKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "symbol and intervalMin are required")
		return
	}
	session, found := s.hub.Session(key)
	if !found {
		writeError(w, http.StatusNotFound, "no such selection")
		return
	}

	state, stateErr := session.State()
	resp := map[string]any{
		"candles": toCandleJSON(session.Candles()),
		"status":  state,
	}
	if stateErr != nil {
		resp["error"] = stateErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func selectionKey(r *http.Request) (string, bool) {
	symbol := r.URL.Query().Get("symbol")
	intervalMin, err := strconv.Atoi(r.URL.Query().Get("intervalMin"))
	if symbol == "" || err != nil {
		return "", false
	}
	return models.Selection{Symbol: symbol, IntervalMin: intervalMin}.Key(), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	raw, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
