package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"options_bot/internal/models"
	"options_bot/internal/modules/storage/service/pg/operations/sql"
)

// details: то, что не вынесено в колонки.
type details struct {
	Instrument        models.InstrumentKind `json:"instrument"`
	ExpirationMinutes int                   `json:"expiration_minutes"`
	PlacedAt          time.Time             `json:"placed_at"`
	Error             string                `json:"error,omitempty"`
}

// Operations: таблица operations.
type Operations struct {
	sql *sql.Queries
}

func New() *Operations {
	return &Operations{
		sql: sql.New(),
	}
}

// Insert возвращает false, если запись с таким order_id уже есть.
func (o *Operations) Insert(ctx context.Context, tx pgx.Tx, op *models.Operation) (inserted bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Operations.Insert: %w", err)
		}
	}()

	var params *sql.InsertParams
	if params, err = insertParams(op); err != nil {
		return false, err
	}
	_, err = o.sql.Insert(ctx, tx, params)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (o *Operations) ListSince(ctx context.Context, tx pgx.Tx, since time.Time) (ops []models.Operation, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Operations.ListSince: %w", err)
		}
	}()

	rows, err := o.sql.ListSince(ctx, tx, since.UTC())
	if err != nil {
		return nil, err
	}

	ops = make([]models.Operation, 0, len(rows))
	for _, row := range rows {
		op, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (o *Operations) DeleteAll(ctx context.Context, tx pgx.Tx) (n int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Operations.DeleteAll: %w", err)
		}
	}()
	return o.sql.DeleteAll(ctx, tx)
}

// insertParams пишет суммы без округления, иначе P/L после Restore
// расходится с живым.
func insertParams(op *models.Operation) (*sql.InsertParams, error) {
	data, err := sonic.Marshal(details{
		Instrument:        op.Instrument,
		ExpirationMinutes: op.ExpirationMinutes,
		PlacedAt:          op.PlacedAt,
		Error:             op.Error,
	})
	if err != nil {
		return nil, err
	}

	ts := op.SettledAt
	if ts.IsZero() {
		ts = op.PlacedAt
	}
	return &sql.InsertParams{
		OrderID:   op.ID,
		Asset:     op.Asset,
		Direction: string(op.Direction),
		Amount:    op.Amount.String(),
		Result:    op.ProfitAmount.String(),
		Outcome:   string(op.Outcome),
		Ts:        ts.UTC(),
		Details:   data,
	}, nil
}

func fromRow(row *sql.Operation) (models.Operation, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return models.Operation{}, fmt.Errorf("amount %q: %w", row.Amount, err)
	}
	result, err := decimal.NewFromString(row.Result)
	if err != nil {
		return models.Operation{}, fmt.Errorf("result %q: %w", row.Result, err)
	}

	var d details
	if len(row.Details) > 0 {
		if err := sonic.Unmarshal(row.Details, &d); err != nil {
			return models.Operation{}, fmt.Errorf("details: %w", err)
		}
	}

	return models.Operation{
		ID:                row.OrderID,
		Asset:             row.Asset,
		Direction:         models.Direction(row.Direction),
		Amount:            amount,
		ExpirationMinutes: d.ExpirationMinutes,
		Instrument:        d.Instrument,
		PlacedAt:          d.PlacedAt,
		SettledAt:         row.Timestamp,
		Outcome:           models.Outcome(row.Outcome),
		ProfitAmount:      result,
		Error:             d.Error,
	}, nil
}
