package main

import (
	"context"
	"log"

	"go.uber.org/fx"

	"candle_dash/internal/hub"
	"candle_dash/internal/modules/binance"
	"candle_dash/internal/modules/config"
	"candle_dash/internal/modules/graphql"
	"candle_dash/internal/modules/graphqlws"
	"candle_dash/internal/modules/health"
	"candle_dash/internal/modules/server"
	"candle_dash/pkg/logger"
	"candle_dash/pkg/tracing"
)

func main() {
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		graphql.Module(),
		graphqlws.Module(),
		binance.Module(),
		hub.Module(),
		server.Module(),
		health.Module(),
		fx.Invoke(initTracer),
	)
	if err := app.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	<-app.Done()
	if err := app.Stop(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func initTracer(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Jaeger.Host == "" {
		return nil
	}
	_, closeTracer, err := tracing.InitTracer(tracing.Config{
		Host: cfg.Jaeger.Host,
		Port: cfg.Jaeger.Port,
	})
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			closeTracer()
			return nil
		},
	})
	return nil
}
