package broker

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"options_bot/internal/modules/broker/service"
	"options_bot/internal/modules/config"
	"options_bot/pkg/logger"
)

// NewAPI выбирает шлюз или бумажного брокера по конфигу.
func NewAPI(cfg *config.Config, clk clock.Clock) service.API {
	if cfg.Broker.Paper {
		logger.Info("[BROKER] paper mode, payout %.2f", cfg.Broker.PaperPayout)
		return service.NewPaperBroker(clk, cfg.Broker.PaperPayout)
	}
	return service.NewGatewayClient(service.GatewayConfig{
		URL:            cfg.Broker.GatewayURL,
		Email:          cfg.Broker.Email,
		Password:       cfg.Broker.Password,
		RequestTimeout: cfg.Broker.RequestTimeout,
	})
}

func Module() fx.Option {
	return fx.Module("broker",
		fx.Provide(
			NewAPI,
			service.NewSession,
		),
		fx.Invoke(func(lc fx.Lifecycle, api service.API) {
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					return api.Close()
				},
			})
		}),
	)
}
