package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle_dash/internal/models"
)

type streamRecorder struct {
	*recorder
	snapshots chan []models.Candle
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{recorder: newRecorder(), snapshots: make(chan []models.Candle, 4)}
}

func (r *streamRecorder) onSnapshot(cs []models.Candle) { r.snapshots <- cs }

func (r *streamRecorder) nextSnapshot(t *testing.T) []models.Candle {
	t.Helper()
	select {
	case cs := <-r.snapshots:
		return cs
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the snapshot")
		return nil
	}
}

func seedCandles() []models.Candle {
	return []models.Candle{
		{OpenTime: 60000, Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{OpenTime: 120000, Open: 1.5, High: 2.5, Low: 1, Close: 2},
	}
}

func okSnapshot(ctx context.Context) ([]models.Candle, error) { return seedCandles(), nil }

func frame(startTime int64, close string) string {
	return fmt.Sprintf("data: {\"candle\":{\"startTime\":%d,\"open\":\"1\",\"high\":\"2\",\"low\":\"0.5\",\"close\":%q,\"volume\":\"3\"}}\n\n", startTime, close)
}

// newSSEServer serves the stream route, writing the given raw chunks and
// then closing the response.
func newSSEServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/binance/stream", r.URL.Path)
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		require.Equal(t, "1m", r.URL.Query().Get("interval"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			_, _ = fmt.Fprint(w, chunk)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamFeedSeedsThenStreams(t *testing.T) {
	srv := newSSEServer(t,
		": keep-alive\n\n",
		frame(180000, "2.5"),
		frame(180000, "2.6"), // same bar updated in place downstream
	)
	rec := newStreamRecorder()
	f := NewStreamFeed(srv.URL, models.Selection{Symbol: "BTCUSDT", IntervalMin: 1},
		okSnapshot, rec.onSnapshot, rec.onCandle, rec.onStatus)
	defer f.Close()

	f.Start(context.Background())

	assert.Equal(t, StatusConnecting, rec.nextStatus(t).status)
	assert.Equal(t, seedCandles(), rec.nextSnapshot(t))
	assert.Equal(t, StatusConnected, rec.nextStatus(t).status)

	// Server closed the stream without a selection change: terminal error.
	last := rec.nextStatus(t)
	assert.Equal(t, StatusError, last.status)
	require.Error(t, last.err)

	got := rec.drainCandles()
	require.Len(t, got, 2)
	assert.Equal(t, int64(180000), got[0].OpenTime)
	assert.Equal(t, 2.5, got[0].Close)
	assert.Equal(t, 2.6, got[1].Close)
}

func TestStreamFeedDropsMalformedFrames(t *testing.T) {
	srv := newSSEServer(t,
		"data: not-json\n\n",
		frame(180000, "bogus"),
		frame(240000, "3.0"),
	)
	rec := newStreamRecorder()
	f := NewStreamFeed(srv.URL, models.Selection{Symbol: "BTCUSDT", IntervalMin: 1},
		okSnapshot, rec.onSnapshot, rec.onCandle, rec.onStatus)
	defer f.Close()

	f.Start(context.Background())

	assert.Equal(t, StatusConnecting, rec.nextStatus(t).status)
	rec.nextSnapshot(t)
	assert.Equal(t, StatusConnected, rec.nextStatus(t).status)
	assert.Equal(t, StatusError, rec.nextStatus(t).status)

	got := rec.drainCandles()
	require.Len(t, got, 1)
	assert.Equal(t, int64(240000), got[0].OpenTime)
}

func TestStreamFeedUnsupportedIntervalFailsBeforeNetwork(t *testing.T) {
	loaded := false
	load := func(ctx context.Context) ([]models.Candle, error) {
		loaded = true
		return nil, nil
	}
	rec := newStreamRecorder()
	f := NewStreamFeed("http://127.0.0.1:1", models.Selection{Symbol: "BTCUSDT", IntervalMin: 7},
		load, rec.onSnapshot, rec.onCandle, rec.onStatus)
	defer f.Close()

	f.Start(context.Background())

	assert.Equal(t, StatusConnecting, rec.nextStatus(t).status)
	last := rec.nextStatus(t)
	assert.Equal(t, StatusError, last.status)
	require.Error(t, last.err)
	assert.False(t, loaded, "configuration failure must precede the snapshot")
}

func TestStreamFeedSnapshotFailure(t *testing.T) {
	load := func(ctx context.Context) ([]models.Candle, error) {
		return nil, errors.New("snapshot down")
	}
	rec := newStreamRecorder()
	f := NewStreamFeed("http://127.0.0.1:1", models.Selection{Symbol: "BTCUSDT", IntervalMin: 1},
		load, rec.onSnapshot, rec.onCandle, rec.onStatus)
	defer f.Close()

	f.Start(context.Background())

	assert.Equal(t, StatusConnecting, rec.nextStatus(t).status)
	last := rec.nextStatus(t)
	assert.Equal(t, StatusError, last.status)
	require.Error(t, last.err)
}

func TestStreamFeedCloseReportsDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprint(w, ": keep-alive\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	rec := newStreamRecorder()
	f := NewStreamFeed(srv.URL, models.Selection{Symbol: "BTCUSDT", IntervalMin: 1},
		okSnapshot, rec.onSnapshot, rec.onCandle, rec.onStatus)

	f.Start(context.Background())

	assert.Equal(t, StatusConnecting, rec.nextStatus(t).status)
	rec.nextSnapshot(t)
	assert.Equal(t, StatusConnected, rec.nextStatus(t).status)

	f.Close()

	last := rec.nextStatus(t)
	assert.Equal(t, StatusDisconnected, last.status)
	assert.NoError(t, last.err)
}
