package hub

import (
	"context"

	"go.uber.org/fx"

	"candle_dash/internal/feed"
	"candle_dash/internal/interval"
	"candle_dash/internal/models"
	"candle_dash/internal/modules/config"
	binsvc "candle_dash/internal/modules/binance/service"
	gqlsvc "candle_dash/internal/modules/graphql/service"
	gwssvc "candle_dash/internal/modules/graphqlws/service"
	"candle_dash/internal/snapshot"
)

// newFeedFactory wires the production feeds: GraphQL subscription for the
// internal source, SSE proxy stream for the exchange source.
func newFeedFactory(cfg *config.Config, gws *gwssvc.Client, loader *snapshot.Loader) FeedFactory {
	return func(sel models.Selection, src snapshot.Source, onSnapshot func([]models.Candle), onCandle feed.Handler, onStatus feed.StatusFunc) feed.Feed {
		if src == snapshot.SourceExchange {
			load := func(ctx context.Context) ([]models.Candle, error) {
				return loader.Load(ctx, snapshot.SourceExchange, sel)
			}
			return feed.NewStreamFeed(cfg.StreamBaseURL, sel, load, onSnapshot, onCandle, onStatus)
		}
		return feed.NewSubscriptionFeed(gws, sel, interval.Native, onCandle, onStatus)
	}
}

func newLoader(cfg *config.Config, gql *gqlsvc.Client, exchange *binsvc.Client) *snapshot.Loader {
	return snapshot.NewLoader(gql, exchange, cfg.SnapshotLimit)
}

func newHub(cfg *config.Config, loader *snapshot.Loader, factory FeedFactory, gql *gqlsvc.Client) *Hub {
	return New(loader, factory, gql, Options{
		MaxCandles:      cfg.MaxCandles,
		RefreshDebounce: cfg.RefreshDebounce,
		TargetBars:      cfg.TargetBars,
	})
}

// Module provides the snapshot loader, feed factory and the hub itself.
func Module() fx.Option {
	return fx.Module("hub",
		fx.Provide(
			newLoader,
			newFeedFactory,
			newHub,
		),
		fx.Invoke(func(lc fx.Lifecycle, h *Hub) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					h.CloseAll()
					return nil
				},
			})
		}),
	)
}
