package feed

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"candle_dash/internal/interval"
	"candle_dash/internal/models"
	"candle_dash/pkg/logger"
)

// SnapshotFunc loads the initial exchange snapshot the stream variant
// seeds from before opening its event stream.
type SnapshotFunc func(ctx context.Context) ([]models.Candle, error)

// StreamFeed is the event-stream variant: one exchange snapshot, then an
// SSE connection to the local proxy route. A stream error is terminal;
// reconnection only happens through a selection change creating a new
// instance.
type StreamFeed struct {
	httpc      *http.Client
	baseURL    string
	sel        models.Selection
	load       SnapshotFunc
	onSnapshot func([]models.Candle)
	onCandle   Handler
	onStatus   StatusFunc

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewStreamFeed(baseURL string, sel models.Selection, load SnapshotFunc, onSnapshot func([]models.Candle), onCandle Handler, onStatus StatusFunc) *StreamFeed {
	return &StreamFeed{
		// No client timeout: the stream is long-lived, lifetime is the ctx.
		httpc:      &http.Client{},
		baseURL:    baseURL,
		sel:        sel,
		load:       load,
		onSnapshot: onSnapshot,
		onCandle:   onCandle,
		onStatus:   onStatus,
	}
}

func (f *StreamFeed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	go f.run(ctx)
}

func (f *StreamFeed) Close() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Unlock()
}

// streamEvent is one SSE data frame from the proxy route.
type streamEvent struct {
	Candle struct {
		StartTime int64  `json:"startTime"`
		Open      string `json:"open"`
		High      string `json:"high"`
		Low       string `json:"low"`
		Close     string `json:"close"`
		Volume    string `json:"volume"`
	} `json:"candle"`
}

func (f *StreamFeed) run(ctx context.Context) {
	f.onStatus(StatusConnecting, nil)

	// Unsupported interval is a configuration failure: no network call.
	code, err := interval.ExchangeCode(f.sel.IntervalMin)
	if err != nil {
		f.onStatus(StatusError, err)
		return
	}

	seed, err := f.load(ctx)
	if err != nil {
		f.onStatus(StatusError, err)
		return
	}
	if ctx.Err() != nil {
		f.onStatus(StatusDisconnected, nil)
		return
	}
	f.onSnapshot(seed)

	q := url.Values{}
	q.Set("symbol", f.sel.Symbol)
	q.Set("interval", code)
	streamURL := f.baseURL + "/api/binance/stream?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		f.onStatus(StatusError, errors.Wrap(err, "stream request"))
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := f.httpc.Do(req)
	if err != nil {
		f.onStatus(StatusError, errors.Wrap(err, "stream open"))
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		f.onStatus(StatusError, errors.Errorf("stream open: status %s", resp.Status))
		return
	}

	f.onStatus(StatusConnected, nil)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 16*1024), 256*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// Frame boundary: dispatch whatever data accumulated.
			if data.Len() > 0 {
				f.handleFrame(data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// Keep-alive comment.
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if ctx.Err() != nil {
		f.onStatus(StatusDisconnected, nil)
		return
	}
	err = scanner.Err()
	if err == nil {
		err = errors.New("stream closed by server")
	}
	f.onStatus(StatusError, err)
}

func (f *StreamFeed) handleFrame(payload string) {
	var ev streamEvent
	if err := sonic.UnmarshalString(payload, &ev); err != nil {
		logger.Warn("feed %s: bad stream frame: %v", f.sel.Key(), err)
		return
	}
	c, err := models.CandleFromStrings(ev.Candle.StartTime,
		ev.Candle.Open, ev.Candle.High, ev.Candle.Low, ev.Candle.Close, ev.Candle.Volume)
	if err != nil {
		logger.Warn("feed %s: drop stream candle: %v", f.sel.Key(), err)
		return
	}
	f.onCandle(c)
}
