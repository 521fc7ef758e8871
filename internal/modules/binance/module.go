package binance

import (
	"go.uber.org/fx"

	"candle_dash/internal/modules/binance/service"
)

// Module provides the upstream exchange client.
func Module() fx.Option {
	return fx.Module("binance",
		fx.Provide(
			service.NewClient,
		),
	)
}
