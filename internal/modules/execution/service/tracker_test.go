package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_bot/internal/models"
	"options_bot/pkg/sched"
)

type fakeBroker struct {
	mu          sync.Mutex
	open        map[string]bool
	rejectBuy   error
	settleAfter int // число опросов до результата; 0: никогда
	profit      decimal.Decimal
	resultErrs  int

	buys    int
	results int
}

func (f *fakeBroker) AssetStatus(_ context.Context, asset string, _ models.InstrumentKind) (models.AssetStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.AssetStatus{Open: f.open[asset]}, nil
}

func (f *fakeBroker) Buy(context.Context, models.InstrumentKind, string, decimal.Decimal, models.Direction, int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys++
	if f.rejectBuy != nil {
		return "", f.rejectBuy
	}
	return "ord-1", nil
}

func (f *fakeBroker) Result(context.Context, models.InstrumentKind, string) (decimal.Decimal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results++
	if f.resultErrs > 0 {
		f.resultErrs--
		return decimal.Zero, false, errors.New("transient")
	}
	if f.settleAfter > 0 && f.results >= f.settleAfter {
		return f.profit, true, nil
	}
	return decimal.Zero, false, nil
}

func req(asset string) PlaceRequest {
	return PlaceRequest{
		Asset:             asset,
		Amount:            decimal.NewFromInt(2),
		Direction:         models.DirectionCall,
		ExpirationMinutes: 1,
		Instrument:        models.InstrumentDigital,
	}
}

// await запускает AwaitSettlement и двигает часы, пока не придёт результат.
func await(t *testing.T, tr *Tracker, mock *clock.Mock, ctx context.Context, op models.Operation) models.Operation {
	t.Helper()
	done := make(chan models.Operation, 1)
	go func() { done <- tr.AwaitSettlement(ctx, op) }()

	for i := 0; i < 1000; i++ {
		select {
		case got := <-done:
			return got
		default:
			mock.Add(time.Second)
		}
	}
	t.Fatal("settlement never returned")
	return models.Operation{}
}

func TestPlaceUnavailableAssetNeverReachesBroker(t *testing.T) {
	b := &fakeBroker{open: map[string]bool{}}
	tr := NewTracker(b, sched.New(clock.NewMock()), DefaultConfig())

	_, err := tr.Place(context.Background(), req("EURUSD"))
	require.ErrorIs(t, err, models.ErrAssetUnavailable)
	assert.Zero(t, b.buys)
}

func TestPlaceValidation(t *testing.T) {
	b := &fakeBroker{open: map[string]bool{"EURUSD": true}}
	tr := NewTracker(b, sched.New(clock.NewMock()), DefaultConfig())

	bad := req("EURUSD")
	bad.Direction = "sideways"
	_, err := tr.Place(context.Background(), bad)
	var pe *models.PlacementError
	require.ErrorAs(t, err, &pe)

	bad = req("EURUSD")
	bad.Amount = decimal.Zero
	_, err = tr.Place(context.Background(), bad)
	require.ErrorAs(t, err, &pe)
	assert.Zero(t, b.buys)
}

func TestPlaceRejectedByBroker(t *testing.T) {
	b := &fakeBroker{open: map[string]bool{"EURUSD": true}, rejectBuy: errors.New("market closed")}
	tr := NewTracker(b, sched.New(clock.NewMock()), DefaultConfig())

	_, err := tr.Place(context.Background(), req("EURUSD"))
	var pe *models.PlacementError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "EURUSD", pe.Asset)
	assert.Empty(t, tr.InFlight())
}

func TestAwaitSettlementWin(t *testing.T) {
	mock := clock.NewMock()
	b := &fakeBroker{open: map[string]bool{"EURUSD": true}, settleAfter: 3, profit: decimal.NewFromFloat(1.74), resultErrs: 1}
	tr := NewTracker(b, sched.New(mock), DefaultConfig())
	ctx := context.Background()

	op, err := tr.Place(ctx, req("EURUSD"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePending, op.Outcome)
	assert.Len(t, tr.InFlight(), 1)

	got := await(t, tr, mock, ctx, op)
	assert.Equal(t, models.OutcomeWin, got.Outcome)
	assert.Equal(t, "1.74", got.ProfitAmount.String())
	assert.Empty(t, tr.InFlight())
}

func TestAwaitSettlementTimeout(t *testing.T) {
	mock := clock.NewMock()
	b := &fakeBroker{open: map[string]bool{"EURUSD": true}}
	tr := NewTracker(b, sched.New(mock), Config{PollInterval: time.Second, Grace: 30 * time.Second})
	ctx := context.Background()

	op, err := tr.Place(ctx, req("EURUSD"))
	require.NoError(t, err)
	start := mock.Now()

	got := await(t, tr, mock, ctx, op)
	assert.Equal(t, models.OutcomeError, got.Outcome)
	assert.Equal(t, "-2", got.ProfitAmount.String())
	assert.Equal(t, models.ErrSettlementTimeout.Error(), got.Error)
	assert.GreaterOrEqual(t, got.SettledAt.Sub(start), 90*time.Second)
	assert.Empty(t, tr.InFlight())
}

func TestAwaitSettlementIgnoresCancel(t *testing.T) {
	mock := clock.NewMock()
	b := &fakeBroker{open: map[string]bool{"EURUSD": true}, settleAfter: 2, profit: decimal.NewFromInt(-2)}
	tr := NewTracker(b, sched.New(mock), DefaultConfig())

	op, err := tr.Place(context.Background(), req("EURUSD"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := await(t, tr, mock, ctx, op)
	assert.Equal(t, models.OutcomeLoss, got.Outcome)
}

func TestExecuteTracesSpans(t *testing.T) {
	tracer := mocktracer.New()
	prev := opentracing.GlobalTracer()
	opentracing.SetGlobalTracer(tracer)
	defer opentracing.SetGlobalTracer(prev)

	b := &fakeBroker{open: map[string]bool{"EURUSD": true}, settleAfter: 1, profit: decimal.Zero}
	tr := NewTracker(b, sched.New(clock.NewMock()), DefaultConfig())

	got, err := tr.Execute(context.Background(), req("EURUSD"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDraw, got.Outcome)

	names := make([]string, 0)
	for _, s := range tracer.FinishedSpans() {
		names = append(names, s.OperationName)
	}
	assert.ElementsMatch(t, []string{"tracker.Place", "tracker.AwaitSettlement"}, names)
}
