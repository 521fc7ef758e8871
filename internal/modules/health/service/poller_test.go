package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle_dash/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestPollMirrorsUpstreamStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		fmt.Fprint(w, `{"info":{"kline-writer":{"status":"up"},"indexer":{"status":"down"}}}`)
	}))
	defer srv.Close()

	state := NewState()
	NewPoller(state, srv.URL).Poll(context.Background())

	upstream, upstreamErr := state.Upstream()
	assert.Empty(t, upstreamErr)
	assert.Equal(t, map[string]string{"kline-writer": "up", "indexer": "down"}, upstream)
}

func TestPollFailureKeepsLastGoodMirror(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"info":{"kline-writer":{"status":"up"}}}`)
	}))
	defer srv.Close()

	state := NewState()
	p := NewPoller(state, srv.URL)

	p.Poll(context.Background())
	healthy = false
	p.Poll(context.Background())

	upstream, upstreamErr := state.Upstream()
	assert.NotEmpty(t, upstreamErr)
	assert.Equal(t, map[string]string{"kline-writer": "up"}, upstream, "last good mirror survives a failed poll")
}

func TestPollUnreachableUpstream(t *testing.T) {
	state := NewState()
	NewPoller(state, "http://127.0.0.1:1").Poll(context.Background())

	_, upstreamErr := state.Upstream()
	assert.NotEmpty(t, upstreamErr)
}

func TestStateReadiness(t *testing.T) {
	state := NewState()
	assert.False(t, state.Ready())

	state.SetReady(true)
	assert.True(t, state.Ready())
}

func TestStateLastTick(t *testing.T) {
	state := NewState()
	assert.True(t, state.LastTick().IsZero())

	now := time.Now()
	state.TouchTick(now)
	assert.Equal(t, now.Unix(), state.LastTick().Unix())
}
