package stats

import (
	"go.uber.org/fx"

	"options_bot/internal/modules/stats/service"
)

func Module() fx.Option {
	return fx.Module("stats",
		fx.Provide(
			service.NewAggregator,
		),
	)
}
