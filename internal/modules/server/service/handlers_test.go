package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle_dash/internal/feed"
	"candle_dash/internal/hub"
	"candle_dash/internal/models"
	binsvc "candle_dash/internal/modules/binance/service"
	"candle_dash/internal/snapshot"
	"candle_dash/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeExchange struct {
	klines    []binsvc.Kline
	klinesErr error
	ticks     []binsvc.Kline
	streamErr error
}

func (f *fakeExchange) RecentKlines(context.Context, string, string, int) ([]binsvc.Kline, error) {
	return f.klines, f.klinesErr
}

func (f *fakeExchange) StreamKlines(context.Context, string, string) (<-chan binsvc.Kline, <-chan error, error) {
	if f.streamErr != nil {
		return nil, nil, f.streamErr
	}
	ticks := make(chan binsvc.Kline, len(f.ticks))
	for _, k := range f.ticks {
		ticks <- k
	}
	close(ticks)
	return ticks, make(chan error, 1), nil
}

type fakeLoader struct {
	candles []models.Candle
	err     error
}

func (l *fakeLoader) Load(context.Context, snapshot.Source, models.Selection) ([]models.Candle, error) {
	return l.candles, l.err
}

type noopFeed struct{}

func (noopFeed) Start(context.Context) {}
func (noopFeed) Close()                {}

func noopFactory(models.Selection, snapshot.Source, func([]models.Candle), feed.Handler, feed.StatusFunc) feed.Feed {
	return noopFeed{}
}

type fakeSymbolAPI struct {
	symbols []models.Symbol
	err     error
	inserts []string
	deletes []string
	indexed []string
}

func (a *fakeSymbolAPI) Symbols(context.Context) ([]models.Symbol, error) {
	return a.symbols, a.err
}

func (a *fakeSymbolAPI) InsertSymbol(_ context.Context, symbol string) error {
	a.inserts = append(a.inserts, symbol)
	return a.err
}

func (a *fakeSymbolAPI) DeleteSymbol(_ context.Context, id string) error {
	a.deletes = append(a.deletes, id)
	return a.err
}

func (a *fakeSymbolAPI) IndexKline(_ context.Context, symbol string) error {
	a.indexed = append(a.indexed, symbol)
	return a.err
}

func newTestServer(t *testing.T, loader *fakeLoader, exchange *fakeExchange, api *fakeSymbolAPI) *httptest.Server {
	t.Helper()
	h := hub.New(loader, noopFactory, api, hub.Options{})
	t.Cleanup(h.CloseAll)

	srv := httptest.NewServer(NewMux(NewServer(h, exchange, nil)))
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(raw, out), "body: %s", raw)
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCandlesProxy(t *testing.T) {
	exchange := &fakeExchange{klines: []binsvc.Kline{
		{OpenTime: 60000, Open: "1.0", High: "2.0", Low: "0.5", Close: "1.5", Volume: "42.5"},
	}}
	srv := newTestServer(t, &fakeLoader{}, exchange, &fakeSymbolAPI{})

	resp, err := http.Get(srv.URL + "/api/binance/candles?symbol=BTCUSDT&interval=1m")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Candles []binsvc.Kline `json:"candles"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Candles, 1)
	assert.Equal(t, "1.5", body.Candles[0].Close, "string numerics forwarded untouched")
}

func TestCandlesProxyValidation(t *testing.T) {
	srv := newTestServer(t, &fakeLoader{}, &fakeExchange{}, &fakeSymbolAPI{})

	resp, err := http.Get(srv.URL + "/api/binance/candles?symbol=BTCUSDT")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCandlesProxyUpstreamFailure(t *testing.T) {
	exchange := &fakeExchange{klinesErr: errors.New("exchange down")}
	srv := newTestServer(t, &fakeLoader{}, exchange, &fakeSymbolAPI{})

	resp, err := http.Get(srv.URL + "/api/binance/candles?symbol=BTCUSDT&interval=1m")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestStreamRouteForwardsTicksAsSSE(t *testing.T) {
	exchange := &fakeExchange{ticks: []binsvc.Kline{
		{OpenTime: 60000, Open: "1", High: "2", Low: "0.5", Close: "1.5", Volume: "3"},
		{OpenTime: 120000, Open: "1.5", High: "2.5", Low: "1", Close: "2", Volume: "4"},
	}}
	srv := newTestServer(t, &fakeLoader{}, exchange, &fakeSymbolAPI{})

	resp, err := http.Get(srv.URL + "/api/binance/stream?symbol=BTCUSDT&interval=1m")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var frames []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data:") {
			frames = append(frames, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	require.Len(t, frames, 2)

	var ev struct {
		Candle struct {
			StartTime int64  `json:"startTime"`
			Close     string `json:"close"`
		} `json:"candle"`
	}
	require.NoError(t, sonic.UnmarshalString(frames[0], &ev))
	assert.Equal(t, int64(60000), ev.Candle.StartTime)
	assert.Equal(t, "1.5", ev.Candle.Close)
}

func TestStreamRouteUpstreamDialFailure(t *testing.T) {
	exchange := &fakeExchange{streamErr: errors.New("dial refused")}
	srv := newTestServer(t, &fakeLoader{}, exchange, &fakeSymbolAPI{})

	resp, err := http.Get(srv.URL + "/api/binance/stream?symbol=BTCUSDT&interval=1m")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestSelectThenSeries(t *testing.T) {
	loader := &fakeLoader{candles: []models.Candle{
		{OpenTime: 60000, Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{OpenTime: 120000, Open: 1.5, High: 2.5, Low: 1, Close: 2},
	}}
	srv := newTestServer(t, loader, &fakeExchange{}, &fakeSymbolAPI{})

	resp := postJSON(t, srv.URL+"/api/selections", `{"symbol":"BTCUSDT","intervalMin":1}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Key string `json:"key"`
	}
	decode(t, resp, &created)
	assert.Equal(t, "BTCUSDT|1", created.Key)

	// Seeding is asynchronous.
	var series struct {
		Candles []struct {
			OpenTime int64   `json:"openTime"`
			Close    float64 `json:"close"`
		} `json:"candles"`
		Status string `json:"status"`
	}
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/series?symbol=BTCUSDT&intervalMin=1")
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		decode(t, resp, &series)
		return len(series.Candles) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(60000), series.Candles[0].OpenTime)
	assert.Equal(t, 1.5, series.Candles[0].Close)
}

func TestSelectValidation(t *testing.T) {
	srv := newTestServer(t, &fakeLoader{}, &fakeExchange{}, &fakeSymbolAPI{})

	resp := postJSON(t, srv.URL+"/api/selections", `{"symbol":"","intervalMin":0}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// 7 minutes is not a ladder rung.
	resp = postJSON(t, srv.URL+"/api/selections", `{"symbol":"BTCUSDT","intervalMin":7}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnselectRemovesSeries(t *testing.T) {
	srv := newTestServer(t, &fakeLoader{}, &fakeExchange{}, &fakeSymbolAPI{})

	resp := postJSON(t, srv.URL+"/api/selections", `{"symbol":"BTCUSDT","intervalMin":1}`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/api/selections?symbol=BTCUSDT&intervalMin=1")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/api/series?symbol=BTCUSDT&intervalMin=1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVisibleRangeReselects(t *testing.T) {
	srv := newTestServer(t, &fakeLoader{}, &fakeExchange{}, &fakeSymbolAPI{})

	resp := postJSON(t, srv.URL+"/api/selections", `{"symbol":"BTCUSDT","intervalMin":1,"mode":"auto"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/selections/range",
		strings.NewReader(fmt.Sprintf(`{"symbol":"BTCUSDT","intervalMin":1,"visibleRangeMs":%d}`, int64(30*24*3_600_000))))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Key         string `json:"key"`
		IntervalMin int    `json:"intervalMin"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "BTCUSDT|240", body.Key)
	assert.Equal(t, 240, body.IntervalMin)
}

func TestVisibleRangeUnknownSelection(t *testing.T) {
	srv := newTestServer(t, &fakeLoader{}, &fakeExchange{}, &fakeSymbolAPI{})

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/selections/range",
		strings.NewReader(`{"symbol":"BTCUSDT","intervalMin":1,"visibleRangeMs":1000}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSymbolRoutes(t *testing.T) {
	api := &fakeSymbolAPI{symbols: []models.Symbol{{ID: "BTCUSDT", IsActive: true}}}
	srv := newTestServer(t, &fakeLoader{}, &fakeExchange{}, api)

	resp, err := http.Get(srv.URL + "/api/symbols")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Symbols []models.Symbol `json:"symbols"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Symbols, 1)
	assert.Equal(t, "BTCUSDT", body.Symbols[0].ID)

	resp = postJSON(t, srv.URL+"/api/symbols", `{"symbol":"ETHUSDT"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"ETHUSDT"}, api.inserts)

	resp = do(t, http.MethodDelete, srv.URL+"/api/symbols/BTCUSDT")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"BTCUSDT"}, api.deletes)

	resp = do(t, http.MethodPost, srv.URL+"/api/symbols/ETHUSDT/index")
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"ETHUSDT"}, api.indexed)
}

func TestAddSymbolValidation(t *testing.T) {
	srv := newTestServer(t, &fakeLoader{}, &fakeExchange{}, &fakeSymbolAPI{})

	resp := postJSON(t, srv.URL+"/api/symbols", `{}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
