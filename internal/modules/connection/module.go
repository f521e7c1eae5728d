package connection

import (
	"context"

	"go.uber.org/fx"

	"options_bot/internal/models"
	broker "options_bot/internal/modules/broker/service"
	"options_bot/internal/modules/config"
	"options_bot/internal/modules/connection/service"
	"options_bot/pkg/logger"
	"options_bot/pkg/sched"
)

func NewManager(cfg *config.Config, api broker.API, sch *sched.Scheduler) (*service.Manager, error) {
	mode, err := models.ParseAccountMode(cfg.Broker.AccountMode)
	if err != nil {
		return nil, err
	}
	return service.NewManager(api, sch, service.RetryConfig{
		MaxRetries: cfg.Connection.MaxRetries,
		Delay:      cfg.Connection.RetryDelay,
	}, mode), nil
}

func Module() fx.Option {
	return fx.Module("connection",
		fx.Provide(
			NewManager,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, m *service.Manager) {
			supCtx, cancel := context.WithCancel(context.Background())

			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					// не валим старт: супервизор сам будет переподключаться
					if s, err := m.Connect(ctx); err != nil {
						logger.Error("[CONN] initial connect failed: %v", err)
					} else {
						logger.Info("[CONN] connected, account %s, balance %s", s.AccountMode, s.Balance)
					}
					m.StartSupervision(supCtx, cfg.Connection.CheckInterval, cfg.Connection.HeartbeatInterval)
					return nil
				},
				OnStop: func(ctx context.Context) error {
					cancel()
					return m.Disconnect()
				},
			})
		}),
	)
}
