package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_bot/internal/models"
)

func settled(id string, at time.Time, profit int64) models.Operation {
	return models.Operation{
		ID:           id,
		Asset:        "EURUSD",
		Amount:       decimal.NewFromInt(2),
		PlacedAt:     at.Add(-time.Minute),
		SettledAt:    at,
		Outcome:      models.OutcomeFromProfit(decimal.NewFromInt(profit)),
		ProfitAmount: decimal.NewFromInt(profit),
	}
}

func TestMemorySaveIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	at := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.Save(ctx, settled("1", at, -2)))
	require.NoError(t, m.Save(ctx, settled("1", at, -2)))

	ops, err := m.List(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestMemoryListSinceOrdered(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.Save(ctx, settled("3", day.Add(3*time.Hour), 1)))
	require.NoError(t, m.Save(ctx, settled("old", day.Add(-time.Hour), 1)))
	require.NoError(t, m.Save(ctx, settled("2", day.Add(2*time.Hour), -1)))

	ops, err := m.List(ctx, DayStart(day.Add(5*time.Hour)))
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "2", ops[0].ID)
	assert.Equal(t, "3", ops[1].ID)
}

func TestMemoryClear(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	at := time.Now()
	require.NoError(t, m.Save(ctx, settled("1", at, 1)))
	require.NoError(t, m.Clear(ctx))

	ops, err := m.List(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, ops)

	require.NoError(t, m.Save(ctx, settled("1", at, 1)))
	ops, _ = m.List(ctx, time.Time{})
	assert.Len(t, ops, 1)
}

func TestDayStart(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	got := DayStart(time.Date(2025, 3, 5, 1, 30, 0, 0, loc))
	assert.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), got)
}
