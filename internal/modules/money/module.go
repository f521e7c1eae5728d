package money

import (
	"go.uber.org/fx"

	"options_bot/internal/modules/money/service"
)

func Module() fx.Option {
	return fx.Module("money",
		fx.Provide(
			service.NewManager,
		),
	)
}
