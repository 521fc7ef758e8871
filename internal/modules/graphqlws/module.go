package graphqlws

import (
	"go.uber.org/fx"

	"candle_dash/internal/modules/graphqlws/service"
)

// Module provides the GraphQL subscription (websocket) client.
func Module() fx.Option {
	return fx.Module("graphqlws",
		fx.Provide(
			service.NewClient,
		),
	)
}
