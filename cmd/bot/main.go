package main

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"options_bot/internal/modules/api"
	"options_bot/internal/modules/broker"
	"options_bot/internal/modules/config"
	"options_bot/internal/modules/connection"
	"options_bot/internal/modules/engine"
	"options_bot/internal/modules/execution"
	"options_bot/internal/modules/hub"
	"options_bot/internal/modules/money"
	"options_bot/internal/modules/notify"
	"options_bot/internal/modules/postgres"
	"options_bot/internal/modules/stats"
	"options_bot/internal/modules/storage"
	"options_bot/internal/modules/strategy"
	"options_bot/internal/modules/tracing"
	"options_bot/pkg/sched"
)

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			func() clock.Clock {
				return clock.New()
			},
			sched.New,
		),
		config.Module(),
		tracing.Module(),
		postgres.Module(),
		storage.Module(),
		broker.Module(),
		connection.Module(),
		strategy.Module(),
		money.Module(),
		stats.Module(),
		execution.Module(),
		hub.Module(),
		notify.Module(),
		engine.Module(),
		api.Module(),
	)
	app.Run()
}
