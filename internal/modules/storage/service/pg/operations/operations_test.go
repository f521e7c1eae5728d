package operations

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_bot/internal/models"
	"options_bot/internal/modules/storage/service/pg/operations/sql"
)

func TestFromRow(t *testing.T) {
	placed := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	row := &sql.Operation{
		OrderID:   "42",
		Asset:     "EURUSD",
		Direction: "put",
		Amount:    "4.00",
		Result:    "-4.00",
		Outcome:   "loss",
		Timestamp: placed.Add(time.Minute),
		Details:   []byte(`{"instrument":"binary","expiration_minutes":1,"placed_at":"2025-03-04T10:00:00Z"}`),
	}

	op, err := fromRow(row)
	require.NoError(t, err)
	assert.Equal(t, "42", op.ID)
	assert.Equal(t, models.DirectionPut, op.Direction)
	assert.Equal(t, "4", op.Amount.String())
	assert.Equal(t, "-4", op.ProfitAmount.String())
	assert.Equal(t, models.InstrumentBinary, op.Instrument)
	assert.True(t, op.PlacedAt.Equal(placed))
	assert.Equal(t, models.OutcomeLoss, op.Outcome)
}

func TestFromRowBadAmount(t *testing.T) {
	_, err := fromRow(&sql.Operation{Amount: "abc", Result: "0"})
	require.Error(t, err)
}

func TestInsertParamsKeepSubCentAmounts(t *testing.T) {
	placed := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	op := &models.Operation{
		ID:           "7",
		Asset:        "EURUSD",
		Direction:    models.DirectionCall,
		Amount:       decimal.RequireFromString("2.5"),
		ProfitAmount: decimal.RequireFromString("2.125"),
		Outcome:      models.OutcomeWin,
		Instrument:   models.InstrumentDigital,
		PlacedAt:     placed,
	}

	params, err := insertParams(op)
	require.NoError(t, err)
	assert.Equal(t, "2.5", params.Amount)
	assert.Equal(t, "2.125", params.Result)
	assert.True(t, params.Ts.Equal(placed))

	back, err := fromRow(&sql.Operation{
		OrderID:   params.OrderID,
		Asset:     params.Asset,
		Direction: params.Direction,
		Amount:    params.Amount,
		Result:    params.Result,
		Outcome:   params.Outcome,
		Timestamp: params.Ts,
		Details:   params.Details,
	})
	require.NoError(t, err)
	assert.True(t, back.ProfitAmount.Equal(op.ProfitAmount))
	assert.True(t, back.Amount.Equal(op.Amount))
	assert.Equal(t, models.InstrumentDigital, back.Instrument)
}
