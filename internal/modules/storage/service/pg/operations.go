package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"options_bot/internal/models"
	"options_bot/internal/modules/storage/service/pg/operations"
	"options_bot/pkg/db"
)

// Operations: Store поверх Postgres.
type Operations struct {
	db  db.TxManager
	ops *operations.Operations
}

func NewOperations(db db.TxManager) *Operations {
	return &Operations{
		db:  db,
		ops: operations.New(),
	}
}

func (o *Operations) Save(ctx context.Context, op models.Operation) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Save: %w", err)
		}
	}()
	return o.db.RunMaster(ctx,
		func(ctxTx context.Context, tx pgx.Tx) error {
			_, err := o.ops.Insert(ctxTx, tx, &op)
			return err
		})
}

func (o *Operations) List(ctx context.Context, since time.Time) (out []models.Operation, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.List: %w", err)
		}
	}()
	err = o.db.RunReadOnly(ctx,
		func(ctxTx context.Context, tx pgx.Tx) error {
			out, err = o.ops.ListSince(ctxTx, tx, since)
			return err
		})
	return out, err
}

func (o *Operations) Clear(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Clear: %w", err)
		}
	}()
	return o.db.RunMaster(ctx,
		func(ctxTx context.Context, tx pgx.Tx) error {
			_, err := o.ops.DeleteAll(ctxTx, tx)
			return err
		})
}
