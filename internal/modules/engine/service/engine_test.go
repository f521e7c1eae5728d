package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_bot/internal/helper"
	"options_bot/internal/models"
	execution "options_bot/internal/modules/execution/service"
	money "options_bot/internal/modules/money/service"
	stats "options_bot/internal/modules/stats/service"
	storage "options_bot/internal/modules/storage/service"
	"options_bot/pkg/sched"
)

type fakeConn struct {
	mu        sync.Mutex
	connected bool
	mode      models.AccountMode
	events    chan models.ConnectionEvent
}

func newFakeConn() *fakeConn {
	return &fakeConn{connected: true, mode: models.AccountPractice, events: make(chan models.ConnectionEvent, 4)}
}

func (f *fakeConn) Session() models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.Session{Connected: f.connected, AccountMode: f.mode, Balance: decimal.NewFromInt(100)}
}

func (f *fakeConn) Health() models.ConnectionHealth       { return models.ConnectionHealth{} }
func (f *fakeConn) EnsureConnected(context.Context) error { return nil }
func (f *fakeConn) Events() <-chan models.ConnectionEvent { return f.events }
func (f *fakeConn) RefreshBalance(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

func (f *fakeConn) SwitchAccount(_ context.Context, mode models.AccountMode) (models.Session, error) {
	f.mu.Lock()
	f.mode = mode
	f.mu.Unlock()
	return f.Session(), nil
}

type fakeMarket struct {
	mu         sync.Mutex
	closed     map[string]bool
	open       []string
	openErr    error
	candleErrs int
	candles    int
}

func (f *fakeMarket) AssetStatus(_ context.Context, asset string, _ models.InstrumentKind) (models.AssetStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.AssetStatus{Open: !f.closed[asset]}, nil
}

func (f *fakeMarket) OpenAssets(context.Context, models.InstrumentKind) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open, f.openErr
}

func (f *fakeMarket) Candles(context.Context, string, int, int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles++
	if f.candleErrs > 0 {
		f.candleErrs--
		return nil, errors.New("candles unavailable")
	}
	return make([]models.Candle, 50), nil
}

func (f *fakeMarket) candleCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candles
}

// scriptedEvaluator даёт CALL первые signals раз, дальше сигнала нет.
type scriptedEvaluator struct {
	mu      sync.Mutex
	signals int
	calls   int
}

func (s *scriptedEvaluator) Evaluate(asset string, _ []models.Candle) models.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.signals > 0 {
		s.signals--
		return models.Signal{Asset: asset, Direction: models.DirectionCall}
	}
	return models.Signal{Asset: asset}
}

func (s *scriptedEvaluator) evaluations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedEvaluator) MinCandles() int { return 26 }
func (s *scriptedEvaluator) Name() string    { return "scripted" }

// fakeExecutor рассчитывает сделки по списку profits; release, если задан,
// держит расчёт до закрытия.
type fakeExecutor struct {
	mu       sync.Mutex
	profits  []decimal.Decimal
	placeErr error
	release  chan struct{}
	placed   []models.Operation
	seq      int
	now      func() time.Time
}

func (f *fakeExecutor) Place(_ context.Context, req execution.PlaceRequest) (models.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return models.Operation{}, f.placeErr
	}
	f.seq++
	op := models.Operation{
		ID:                fmt.Sprintf("op-%d", f.seq),
		Asset:             req.Asset,
		Direction:         req.Direction,
		Amount:            req.Amount,
		ExpirationMinutes: req.ExpirationMinutes,
		Instrument:        req.Instrument,
		PlacedAt:          f.now(),
		Outcome:           models.OutcomePending,
	}
	f.placed = append(f.placed, op)
	return op, nil
}

func (f *fakeExecutor) AwaitSettlement(_ context.Context, op models.Operation) models.Operation {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	profit := decimal.Zero
	if len(f.profits) > 0 {
		profit, f.profits = f.profits[0], f.profits[1:]
	}
	op.ProfitAmount = profit
	op.Outcome = models.OutcomeFromProfit(profit)
	op.SettledAt = f.now()
	return op
}

func (f *fakeExecutor) InFlight() []models.Operation { return nil }

func (f *fakeExecutor) placedOps() []models.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Operation(nil), f.placed...)
}

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, 0)
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) states() []models.EngineState {
	out := make([]models.EngineState, 0)
	for _, ev := range r.ofType(models.EventState) {
		out = append(out, ev.Payload.(models.StatePayload).State)
	}
	return out
}

type harness struct {
	mock   *clock.Mock
	conn   *fakeConn
	market *fakeMarket
	eval   *scriptedEvaluator
	exec   *fakeExecutor
	agg    *stats.Aggregator
	store  *storage.Memory
	sink   *recorder
	engine *Engine
}

func martingale(base, gain, loss int64) models.MoneyPolicy {
	return models.MoneyPolicy{
		Kind:       models.PolicyMartingale,
		BaseAmount: decimal.NewFromInt(base),
		StopGain:   decimal.NewFromInt(gain),
		StopLoss:   decimal.NewFromInt(loss),
	}
}

func newHarness(t *testing.T, settings Settings, opts Options) *harness {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC))
	h := &harness{
		mock:   mock,
		conn:   newFakeConn(),
		market: &fakeMarket{},
		eval:   &scriptedEvaluator{},
		exec:   &fakeExecutor{now: mock.Now},
		agg:    stats.NewAggregator(),
		store:  storage.NewMemory(),
		sink:   &recorder{},
	}
	e, err := New(Deps{
		Conn:      h.conn,
		Market:    h.market,
		Exec:      h.exec,
		Stakes:    money.NewManager(),
		Stats:     h.agg,
		Store:     h.store,
		Evaluator: h.eval,
		Sink:      h.sink,
		Scheduler: sched.New(mock),
	}, settings, opts)
	require.NoError(t, err)
	h.engine = e
	t.Cleanup(func() {
		e.Stop("test done")
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Wait(ctx)
	})
	return h
}

// until двигает часы, пока cond не станет истинным.
func (h *harness) until(t *testing.T, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		h.mock.Add(step)
		return cond()
	}, 3*time.Second, time.Millisecond)
}

func eurusd(policy models.MoneyPolicy) Settings {
	return Settings{Policy: policy, Assets: []string{"eurusd"}}
}

func TestMartingaleScenarioEndToEnd(t *testing.T) {
	h := newHarness(t, eurusd(martingale(2, 50, 30)), DefaultOptions())
	h.eval.signals = 3
	h.exec.profits = []decimal.Decimal{
		decimal.NewFromInt(-2),
		decimal.NewFromInt(-4),
		decimal.NewFromFloat(8.4),
	}

	require.NoError(t, h.engine.Start(context.Background()))
	h.until(t, time.Second, func() bool { return h.agg.Snapshot().TotalOperations == 3 })

	st := h.agg.Snapshot()
	assert.Equal(t, "2.4", st.ProfitLoss.String())
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 2, st.Losses)
	assert.InDelta(t, 33.3, st.WinRate, 0.05)

	stakes := make([]string, 0)
	for _, op := range h.exec.placedOps() {
		assert.Equal(t, "EURUSD", op.Asset)
		stakes = append(stakes, op.Amount.String())
	}
	assert.Equal(t, []string{"2", "4", "8"}, stakes)

	saved, err := h.store.List(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, saved, 3)
	assert.Equal(t, models.StateRunning, h.engine.State())
	assert.NotEmpty(t, h.sink.ofType(models.EventAnalysis))
}

func TestStartRequiresAssetsAndConnection(t *testing.T) {
	h := newHarness(t, Settings{Policy: martingale(2, 50, 30)}, DefaultOptions())
	err := h.engine.Start(context.Background())
	require.ErrorIs(t, err, models.ErrNoAssets)
	assert.Equal(t, models.StateIdle, h.engine.State())

	_, err = h.engine.Configure(eurusd(martingale(2, 50, 30)))
	require.NoError(t, err)
	h.conn.mu.Lock()
	h.conn.connected = false
	h.conn.mu.Unlock()
	require.ErrorIs(t, h.engine.Start(context.Background()), models.ErrNotConnected)
}

func TestConfigureRejectedWhileRunningAndResetsStats(t *testing.T) {
	h := newHarness(t, eurusd(martingale(2, 50, 30)), DefaultOptions())
	h.agg.Record(models.Operation{ID: "x", Amount: decimal.NewFromInt(2), Outcome: models.OutcomeWin, ProfitAmount: decimal.NewFromInt(1)})

	require.NoError(t, h.engine.Start(context.Background()))
	_, err := h.engine.Configure(eurusd(martingale(3, 50, 30)))
	require.ErrorIs(t, err, models.ErrEngineRunning)
	require.ErrorIs(t, h.engine.Start(context.Background()), models.ErrEngineRunning)

	h.engine.Stop("")
	require.NoError(t, h.engine.Wait(context.Background()))

	s, err := h.engine.Configure(eurusd(martingale(3, 50, 30)))
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD"}, s.Assets)
	assert.Zero(t, h.agg.Snapshot().TotalOperations)

	_, err = h.engine.Configure(Settings{Policy: models.MoneyPolicy{Kind: models.PolicyFlat}})
	require.ErrorIs(t, err, models.ErrInvalidPolicy)
}

func TestConfigureCanonicalizesPolicyKind(t *testing.T) {
	h := newHarness(t, eurusd(martingale(2, 50, 30)), DefaultOptions())

	p := martingale(2, 50, 30)
	p.Kind = "MARTINGALE"
	s, err := h.engine.Configure(eurusd(p))
	require.NoError(t, err)
	assert.Equal(t, models.PolicyMartingale, s.Policy.Kind)

	lost := []models.Operation{{ID: "1", Amount: decimal.NewFromInt(2), Outcome: models.OutcomeLoss, ProfitAmount: decimal.NewFromInt(-2)}}
	stake := money.NewManager().NextStake(lost, decimal.NewFromInt(-2), s.Policy)
	assert.Equal(t, "4", stake.String())

	p.Kind = " Fixed "
	s, err = h.engine.Configure(eurusd(p))
	require.NoError(t, err)
	assert.Equal(t, models.PolicyFlat, s.Policy.Kind)
}

func TestStopWaitsForPendingSettlement(t *testing.T) {
	h := newHarness(t, eurusd(martingale(2, 50, 30)), DefaultOptions())
	h.eval.signals = 1
	h.exec.profits = []decimal.Decimal{decimal.NewFromInt(-2)}
	h.exec.release = make(chan struct{})

	require.NoError(t, h.engine.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.exec.placedOps()) == 1 }, time.Second, time.Millisecond)

	h.engine.Stop("")
	assert.Equal(t, models.StateStopped, h.engine.State())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.engine.Wait(ctx), context.DeadlineExceeded)
	require.ErrorIs(t, h.engine.Start(context.Background()), ErrDraining)

	close(h.exec.release)
	require.NoError(t, h.engine.Wait(context.Background()))

	st := h.agg.Snapshot()
	assert.Equal(t, 1, st.TotalOperations)
	assert.Equal(t, 1, st.Losses)
	saved, _ := h.store.List(context.Background(), time.Time{})
	assert.Len(t, saved, 1)
}

func TestAutoStopOnStopGain(t *testing.T) {
	h := newHarness(t, eurusd(martingale(2, 5, 30)), DefaultOptions())
	h.eval.signals = 1
	h.exec.profits = []decimal.Decimal{decimal.NewFromFloat(8.4)}

	require.NoError(t, h.engine.Start(context.Background()))
	require.Eventually(t, func() bool { return h.engine.State() == models.StateStopped }, time.Second, time.Millisecond)
	require.NoError(t, h.engine.Wait(context.Background()))

	assert.Equal(t, []models.EngineState{models.StateRunning, models.StateStopped}, h.sink.states())
	assert.Contains(t, h.engine.Status().Reason, "stop gain reached")
}

func TestFatalConnectionPausesAndRestoreResumes(t *testing.T) {
	h := newHarness(t, eurusd(martingale(2, 50, 30)), DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.engine.WatchConnection(ctx)

	require.NoError(t, h.engine.Start(ctx))
	require.Eventually(t, func() bool { return h.eval.evaluations() == 1 }, time.Second, time.Millisecond)
	h.conn.events <- models.ConnectionEvent{Kind: models.ConnectionFatal, Err: errors.New("gave up"), At: h.mock.Now()}
	require.Eventually(t, func() bool { return h.engine.State() == models.StatePaused }, time.Second, time.Millisecond)

	// на паузе циклы не оценивают рынок
	before := h.eval.evaluations()
	h.mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, before, h.eval.evaluations())

	h.conn.events <- models.ConnectionEvent{Kind: models.ConnectionRestored, At: h.mock.Now()}
	require.Eventually(t, func() bool { return h.engine.State() == models.StateRunning }, time.Second, time.Millisecond)

	assert.Equal(t,
		[]models.EngineState{models.StateRunning, models.StatePaused, models.StateRunning},
		h.sink.states())

	levels := make([]models.Level, 0)
	for _, ev := range h.sink.ofType(models.EventAlert) {
		levels = append(levels, ev.Level)
	}
	assert.Contains(t, levels, models.LevelError)
}

func TestPlacementErrorIsNotCounted(t *testing.T) {
	h := newHarness(t, eurusd(martingale(2, 50, 30)), DefaultOptions())
	h.eval.signals = 1
	h.exec.placeErr = &models.PlacementError{Asset: "EURUSD", Reason: "rejected", Err: errors.New("suspended")}

	require.NoError(t, h.engine.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.sink.ofType(models.EventAlert)) > 0 }, time.Second, time.Millisecond)

	assert.Zero(t, h.agg.Snapshot().TotalOperations)
	alert := h.sink.ofType(models.EventAlert)[0]
	assert.Equal(t, models.LevelWarning, alert.Level)
	assert.Equal(t, "EURUSD", alert.Payload.(models.AlertPayload).Asset)
}

func TestClosedAssetSkipped(t *testing.T) {
	h := newHarness(t, Settings{Policy: martingale(2, 50, 30), Assets: []string{"EURUSD", "GBPUSD"}}, DefaultOptions())
	h.market.closed = map[string]bool{"EURUSD": true}

	require.NoError(t, h.engine.Start(context.Background()))
	require.Eventually(t, func() bool { return h.eval.evaluations() == 1 }, time.Second, time.Millisecond)

	analysis := h.sink.ofType(models.EventAnalysis)
	require.Len(t, analysis, 1)
	assert.Equal(t, "GBPUSD", analysis[0].Payload.(models.Signal).Asset)
}

func TestCycleErrorUsesShortBackoff(t *testing.T) {
	h := newHarness(t, eurusd(martingale(2, 50, 30)), DefaultOptions())
	h.market.candleErrs = 1
	start := h.mock.Now()

	require.NoError(t, h.engine.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.sink.ofType(models.EventAlert)) == 1 }, time.Second, time.Millisecond)

	h.until(t, time.Second, func() bool { return h.market.candleCalls() == 2 })
	assert.Less(t, h.mock.Now().Sub(start), 30*time.Second)
	assert.Equal(t, 1, h.eval.evaluations())
}

func TestOutsideTradingHoursSkipsCycle(t *testing.T) {
	w, err := helper.ParseWindow("01:00", "02:00")
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Hours = w

	h := newHarness(t, eurusd(martingale(2, 50, 30)), opts)
	require.NoError(t, h.engine.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.sink.ofType(models.EventUpdate)) > 0 }, time.Second, time.Millisecond)

	assert.Zero(t, h.market.candleCalls())
	upd := h.sink.ofType(models.EventUpdate)
	assert.Contains(t, upd[len(upd)-1].Payload.(models.UpdatePayload).Message, "outside trading hours 01:00-02:00")
}

func TestResolveAssetsFallback(t *testing.T) {
	settings := Settings{Policy: martingale(2, 50, 30), AllAssets: true}

	h := newHarness(t, settings, DefaultOptions())
	h.market.open = []string{"AUDCAD", "EURUSD"}
	got, err := h.engine.resolveAssets(context.Background(), h.engine.Settings())
	require.NoError(t, err)
	assert.Equal(t, []string{"AUDCAD", "EURUSD"}, got)

	h.market.openErr = errors.New("timeout")
	_, err = h.engine.resolveAssets(context.Background(), h.engine.Settings())
	require.Error(t, err)

	opts := DefaultOptions()
	opts.Fallback = FallbackBestEffort
	opts.FallbackAssets = []string{"EURUSD"}
	h = newHarness(t, settings, opts)
	h.market.openErr = errors.New("timeout")
	got, err = h.engine.resolveAssets(context.Background(), h.engine.Settings())
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD"}, got)
}

func TestTestEntryRecordsInBackground(t *testing.T) {
	h := newHarness(t, Settings{Policy: martingale(2, 50, 30), Assets: []string{"EURUSD", "GBPUSD"}}, DefaultOptions())
	h.engine.pick = func(int) int { return 0 }
	h.exec.profits = []decimal.Decimal{decimal.NewFromFloat(1.7)}

	op, err := h.engine.TestEntry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", op.Asset)
	assert.Equal(t, models.DirectionCall, op.Direction)
	assert.Equal(t, "2", op.Amount.String())

	require.Eventually(t, func() bool { return h.agg.Snapshot().Wins == 1 }, time.Second, time.Millisecond)
}

func TestClearHistory(t *testing.T) {
	h := newHarness(t, eurusd(martingale(2, 50, 30)), DefaultOptions())
	ctx := context.Background()
	op := models.Operation{ID: "1", Amount: decimal.NewFromInt(2), Outcome: models.OutcomeLoss, ProfitAmount: decimal.NewFromInt(-2), SettledAt: h.mock.Now()}
	h.engine.record(ctx, op)
	require.Len(t, h.engine.History(), 1)

	require.NoError(t, h.engine.ClearHistory(ctx))
	assert.Empty(t, h.engine.History())
	saved, _ := h.store.List(ctx, time.Time{})
	assert.Empty(t, saved)
}

func TestRestoreFromStore(t *testing.T) {
	h := newHarness(t, eurusd(martingale(2, 50, 30)), DefaultOptions())
	ctx := context.Background()
	yesterday := h.mock.Now().Add(-24 * time.Hour)
	require.NoError(t, h.store.Save(ctx, models.Operation{ID: "old", Amount: decimal.NewFromInt(2), Outcome: models.OutcomeWin, ProfitAmount: decimal.NewFromInt(1), SettledAt: yesterday}))
	require.NoError(t, h.store.Save(ctx, models.Operation{ID: "today", Amount: decimal.NewFromInt(2), Outcome: models.OutcomeLoss, ProfitAmount: decimal.NewFromInt(-2), SettledAt: h.mock.Now()}))

	require.NoError(t, h.engine.Restore(ctx))
	st := h.agg.Snapshot()
	assert.Equal(t, 1, st.TotalOperations)
	assert.Equal(t, "-2", st.ProfitLoss.String())
}

func TestSwitchAccountRejectedWhileRunning(t *testing.T) {
	h := newHarness(t, eurusd(martingale(2, 50, 30)), DefaultOptions())
	s, err := h.engine.SwitchAccount(context.Background(), models.AccountReal)
	require.NoError(t, err)
	assert.Equal(t, models.AccountReal, s.AccountMode)

	require.NoError(t, h.engine.Start(context.Background()))
	_, err = h.engine.SwitchAccount(context.Background(), models.AccountPractice)
	require.ErrorIs(t, err, models.ErrEngineRunning)
}
