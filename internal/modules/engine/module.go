package engine

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	"options_bot/internal/helper"
	"options_bot/internal/models"
	broker "options_bot/internal/modules/broker/service"
	"options_bot/internal/modules/config"
	connection "options_bot/internal/modules/connection/service"
	"options_bot/internal/modules/engine/service"
	execution "options_bot/internal/modules/execution/service"
	money "options_bot/internal/modules/money/service"
	stats "options_bot/internal/modules/stats/service"
	storage "options_bot/internal/modules/storage/service"
	strategy "options_bot/internal/modules/strategy/service"
	"options_bot/pkg/logger"
	"options_bot/pkg/sched"
)

type Params struct {
	fx.In

	Cfg       *config.Config
	Conn      *connection.Manager
	Session   *broker.Session
	Tracker   *execution.Tracker
	Money     *money.Manager
	Stats     *stats.Aggregator
	Store     storage.Store
	Evaluator strategy.Engine
	Scheduler *sched.Scheduler
	Sinks     []service.Sink `group:"sinks"`
}

func SettingsFromConfig(cfg *config.Config) (service.Settings, error) {
	kind, err := models.ParsePolicyKind(cfg.Money.Kind)
	if err != nil {
		return service.Settings{}, err
	}
	instrument, err := models.ParseInstrument(cfg.Broker.Instrument)
	if err != nil {
		return service.Settings{}, err
	}
	return service.Settings{
		Policy: models.MoneyPolicy{
			Kind:                kind,
			BaseAmount:          decimal.NewFromFloat(cfg.Money.BaseAmount),
			StopGain:            decimal.NewFromFloat(cfg.Money.StopGain),
			StopLoss:            decimal.NewFromFloat(cfg.Money.StopLoss),
			Multiplier:          decimal.NewFromFloat(cfg.Money.Multiplier),
			SafetyMultiplierCap: decimal.NewFromFloat(cfg.Money.SafetyMultiplierCap),
		},
		Assets:            cfg.Engine.Assets,
		AllAssets:         cfg.Engine.AllAssets,
		CandleTimeframe:   cfg.Engine.CandleTimeframe,
		ExpirationMinutes: cfg.Engine.ExpirationMinutes,
		Instrument:        instrument,
	}, nil
}

func OptionsFromConfig(cfg *config.Config) (service.Options, error) {
	hours, err := helper.ParseWindow(cfg.Engine.TradingHoursStart, cfg.Engine.TradingHoursEnd)
	if err != nil {
		return service.Options{}, err
	}
	return service.Options{
		CycleInterval:     cfg.Engine.CycleInterval,
		ErrorBackoff:      cfg.Engine.ErrorBackoff,
		CandleCount:       cfg.Engine.CandleCount,
		MaxTradesPerCycle: cfg.Engine.MaxTradesPerCycle,
		Fallback:          service.FallbackMode(cfg.Engine.FallbackMode),
		FallbackAssets:    cfg.Engine.FallbackAssets,
		Hours:             hours,
	}, nil
}

func NewEngine(p Params) (*service.Engine, error) {
	settings, err := SettingsFromConfig(p.Cfg)
	if err != nil {
		return nil, err
	}
	opts, err := OptionsFromConfig(p.Cfg)
	if err != nil {
		return nil, err
	}
	return service.New(service.Deps{
		Conn:      p.Conn,
		Market:    p.Session,
		Exec:      p.Tracker,
		Stakes:    p.Money,
		Stats:     p.Stats,
		Store:     p.Store,
		Evaluator: p.Evaluator,
		Sink:      service.Sinks(p.Sinks),
		Scheduler: p.Scheduler,
	}, settings, opts)
}

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			NewEngine,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, e *service.Engine) {
			watchCtx, cancel := context.WithCancel(context.Background())

			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := e.Restore(ctx); err != nil {
						logger.Error("[ENGINE] %v", err)
					}
					go e.WatchConnection(watchCtx)

					if cfg.Engine.AutoStart {
						if err := e.Start(ctx); err != nil {
							logger.Error("[ENGINE] auto start: %v", err)
						}
					}
					return nil
				},
				OnStop: func(ctx context.Context) error {
					defer cancel()
					e.Stop("shutdown")
					return e.Wait(ctx)
				},
			})
		}),
	)
}
