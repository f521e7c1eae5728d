package hub

import (
	"context"

	"go.uber.org/fx"

	engine "options_bot/internal/modules/engine/service"
	"options_bot/internal/modules/hub/service"
	"options_bot/pkg/sched"
)

func NewHub(sch *sched.Scheduler) *service.Hub {
	return service.New(sch, service.DefaultConfig())
}

func Module() fx.Option {
	return fx.Module("hub",
		fx.Provide(
			NewHub,
			fx.Annotate(
				func(h *service.Hub) engine.Sink { return h },
				fx.ResultTags(`group:"sinks"`),
			),
		),
		fx.Invoke(func(lc fx.Lifecycle, h *service.Hub) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go h.Run(ctx)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					h.Close()
					return nil
				},
			})
		}),
	)
}
