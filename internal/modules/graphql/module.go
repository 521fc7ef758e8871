package graphql

import (
	"go.uber.org/fx"

	"candle_dash/internal/modules/graphql/service"
)

// Module provides the internal GraphQL HTTP client.
func Module() fx.Option {
	return fx.Module("graphql",
		fx.Provide(
			service.NewClient,
		),
	)
}
