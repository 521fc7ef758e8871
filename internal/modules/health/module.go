package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"

	"candle_dash/internal/modules/config"
	"candle_dash/internal/modules/health/service"
	"candle_dash/pkg/logger"
)

func newPoller(cfg *config.Config, state *service.State) *service.Poller {
	return service.NewPoller(state, cfg.API.HealthURL)
}

func newMux(state *service.State) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: the process is up
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		upstream, upstreamErr := state.Upstream()
		resp := map[string]any{
			"ready":     state.Ready(),
			"uptimeSec": int64(state.Uptime().Seconds()),
			"upstream":  upstream,
			"lastTickUnix": func() int64 {
				t := state.LastTick()
				if t.IsZero() {
					return 0
				}
				return t.Unix()
			}(),
		}
		if upstreamErr != "" {
			resp["upstreamError"] = upstreamErr
		}
		raw, _ := sonic.Marshal(resp)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
	})

	return mux
}

// runAdminHTTP serves the liveness endpoints on the admin port.
func runAdminHTTP(lc fx.Lifecycle, cfg *config.Config, state *service.State) {
	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.AdminPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(state),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() { _ = srv.Serve(ln) }()
			state.SetReady(true)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// runPoller schedules the upstream health poll on the configured cron
// spec.
func runPoller(lc fx.Lifecycle, cfg *config.Config, poller *service.Poller) error {
	c := cron.New()
	_, err := c.AddFunc(cfg.HealthPollSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		poller.Poll(ctx)
	})
	if err != nil {
		return fmt.Errorf("register health poll: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Start()
			logger.Info("health poller scheduled: %s", cfg.HealthPollSpec)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-c.Stop().Done()
			return nil
		},
	})
	return nil
}

// Module exposes liveness endpoints and keeps the upstream health mirror
// fresh.
func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			newPoller,
		),
		fx.Invoke(
			runAdminHTTP,
			runPoller,
		),
	)
}
