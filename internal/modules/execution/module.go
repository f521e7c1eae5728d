package execution

import (
	"go.uber.org/fx"

	broker "options_bot/internal/modules/broker/service"
	"options_bot/internal/modules/config"
	"options_bot/internal/modules/execution/service"
	"options_bot/pkg/sched"
)

func NewTracker(cfg *config.Config, s *broker.Session, sch *sched.Scheduler) *service.Tracker {
	return service.NewTracker(s, sch, service.Config{
		PollInterval: cfg.Engine.PollInterval,
		Grace:        cfg.Engine.SettlementGrace,
	})
}

func Module() fx.Option {
	return fx.Module("execution",
		fx.Provide(
			NewTracker,
		),
	)
}
