package service

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"candle_dash/pkg/logger"
)

// Poller mirrors the internal platform's health endpoint into State.
type Poller struct {
	state *State
	url   string
	http  *http.Client
}

func NewPoller(state *State, healthURL string) *Poller {
	return &Poller{
		state: state,
		url:   healthURL + "/health",
		http:  &http.Client{Timeout: 5 * time.Second},
	}
}

// healthResponse is the upstream shape: {"info":{"<svc>":{"status":"up"}}}.
type healthResponse struct {
	Info map[string]struct {
		Status string `json:"status"`
	} `json:"info"`
}

// Poll runs one health check. Failures are recorded, never escalated.
func (p *Poller) Poll(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.state.SetUpstreamError(err.Error())
		return
	}

	resp, err := p.http.Do(req)
	if err != nil {
		logger.Warn("health poll: %v", err)
		p.state.SetUpstreamError(err.Error())
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("health poll: status %s", resp.Status)
		p.state.SetUpstreamError(resp.Status)
		return
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		p.state.SetUpstreamError(err.Error())
		return
	}

	var body healthResponse
	if err := sonic.Unmarshal(raw, &body); err != nil {
		p.state.SetUpstreamError(err.Error())
		return
	}

	statuses := make(map[string]string, len(body.Info))
	for name, svc := range body.Info {
		statuses[name] = svc.Status
	}
	p.state.SetUpstream(statuses)
}
