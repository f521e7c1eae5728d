package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"options_bot/internal/modules/config"
	"options_bot/pkg/db"
	"options_bot/pkg/logger"
)

// NewTxManager открывает пул; при пустом db_dsn возвращает nil и хранилище
// уходит в память.
func NewTxManager(lc fx.Lifecycle, ctx context.Context, cfg *config.Config) (*db.PgTxManager, error) {
	if cfg.DB == "" {
		logger.Warn("[PG] db_dsn is empty, operations are kept in memory")
		return nil, nil
	}

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN:      cfg.DB,
		MaxConns: 4,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	err = poolMaster.Ping(ctx)
	if err != nil {
		poolMaster.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	m := db.NewPgTxManager(poolMaster)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			m.Close()
			return nil
		},
	})
	return m, nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			NewTxManager,
		),
	)
}
