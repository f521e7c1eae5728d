package storage

import (
	"go.uber.org/fx"

	"options_bot/internal/modules/storage/service"
	"options_bot/internal/modules/storage/service/pg"
	"options_bot/pkg/db"
)

func NewStore(tm *db.PgTxManager) service.Store {
	if tm == nil {
		return service.NewMemory()
	}
	return pg.NewOperations(tm)
}

func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			NewStore,
		),
	)
}
