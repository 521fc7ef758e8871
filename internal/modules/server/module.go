package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"candle_dash/internal/hub"
	binsvc "candle_dash/internal/modules/binance/service"
	"candle_dash/internal/modules/config"
	healthsvc "candle_dash/internal/modules/health/service"
	"candle_dash/internal/modules/server/service"
	"candle_dash/pkg/logger"
)

func newServer(h *hub.Hub, exchange *binsvc.Client, state *healthsvc.State) *service.Server {
	return service.NewServer(h, exchange, state)
}

// RunHTTP binds the public API on the service address.
func RunHTTP(lc fx.Lifecycle, cfg *config.Config, mux *http.ServeMux) {
	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.PublicPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			logger.Info("public api listening on %s", addr)
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// Module serves the dashboard API and the exchange proxy routes.
func Module() fx.Option {
	return fx.Module("server",
		fx.Provide(
			newServer,
			service.NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
