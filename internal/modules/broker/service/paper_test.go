package service

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_bot/internal/models"
)

func TestPaperBrokerSettlesAfterExpiration(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC))
	p := NewPaperBroker(mock, 0.85)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))

	id, err := p.BuyDigital(ctx, "EURUSD", decimal.NewFromInt(10), models.DirectionCall, 1)
	require.NoError(t, err)

	_, settled, err := p.CheckResult(ctx, models.InstrumentDigital, id)
	require.NoError(t, err)
	assert.False(t, settled)

	mock.Add(time.Minute)
	profit, settled, err := p.CheckResult(ctx, models.InstrumentDigital, id)
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Contains(t, []string{"8.5", "-10", "0"}, profit.String())
}

func TestPaperBrokerRejectsClosedAsset(t *testing.T) {
	p := NewPaperBroker(clock.NewMock(), 0.85)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	p.SetClosed("GBPUSD", true)

	_, err := p.BuyBinary(ctx, decimal.NewFromInt(1), "GBPUSD", models.DirectionPut, 1)
	var re *RemoteError
	require.ErrorAs(t, err, &re)

	st, err := NewSession(p, clock.NewMock()).AssetStatus(ctx, "GBPUSD", models.InstrumentBinary)
	require.NoError(t, err)
	assert.False(t, st.Open)
}

func TestPaperBrokerCandlesAreStable(t *testing.T) {
	p := NewPaperBroker(clock.NewMock(), 0.85)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	end := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	a, err := p.GetCandles(ctx, "EURUSD", 60, 50, end)
	require.NoError(t, err)
	b, err := p.GetCandles(ctx, "EURUSD", 60, 50, end)
	require.NoError(t, err)

	require.Len(t, a, 50)
	assert.Equal(t, a, b)
	for _, c := range a {
		assert.GreaterOrEqual(t, c.Max, c.Min)
	}
}

func TestPaperBrokerRequiresConnection(t *testing.T) {
	p := NewPaperBroker(clock.NewMock(), 0.85)
	_, err := p.GetAllOpenTime(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
