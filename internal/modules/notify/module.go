package notify

import (
	"context"

	"go.uber.org/fx"

	"options_bot/internal/modules/config"
	engine "options_bot/internal/modules/engine/service"
	"options_bot/internal/notify"
	"options_bot/pkg/logger"
)

// NewNotifier: телеграм при заданном токене, иначе лог.
func NewNotifier(cfg *config.Config) (notify.Notifier, error) {
	if cfg.Telegram.Token == "" {
		logger.Warn("[NOTIFY] telegram token is empty, notifications go to log")
		return notify.NewStdout(), nil
	}
	if cfg.Telegram.ChatID == 0 {
		logger.Warn("[NOTIFY] telegram chat_id is empty, messages will not be sent")
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		return nil, err
	}
	return tg, nil
}

func asSink(n notify.Notifier) engine.Sink { return n }

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			NewNotifier,
			fx.Annotate(asSink, fx.ResultTags(`group:"sinks"`)),
		),
		fx.Invoke(func(lc fx.Lifecycle, n notify.Notifier, e *engine.Engine) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go n.Run(ctx, e)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
