package config

import (
	"context"

	"go.uber.org/fx"

	"options_bot/pkg/logger"
)

// Module регистрирует конфиг и поднимает глобальный логгер.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *Config) error {
			flush, err := logger.Init(cfg.Log)
			if err != nil {
				return err
			}
			logger.SetServiceName("options_bot")
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					flush()
					return nil
				},
			})
			return nil
		}),
	)
}
