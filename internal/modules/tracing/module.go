package tracing

import (
	"context"

	"go.uber.org/fx"

	"options_bot/internal/modules/config"
	"options_bot/pkg/tracing"
)

func Module() fx.Option {
	return fx.Module("tracing",
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) error {
			tracing.SetServiceName("options_bot")
			_, closer, err := tracing.InitTracer(tracing.Config{
				Enabled: cfg.Tracing.Enabled,
				Host:    cfg.Tracing.Host,
				Port:    cfg.Tracing.Port,
			})
			if err != nil {
				return err
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					closer()
					return nil
				},
			})
			return nil
		}),
	)
}
