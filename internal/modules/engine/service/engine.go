package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"options_bot/internal/models"
	execution "options_bot/internal/modules/execution/service"
	"options_bot/internal/modules/metrics"
	stats "options_bot/internal/modules/stats/service"
	storage "options_bot/internal/modules/storage/service"
	strategy "options_bot/internal/modules/strategy/service"
	"options_bot/pkg/logger"
	"options_bot/pkg/sched"
)

// ErrDraining: Stop уже вызван, но цикл ещё дожидается расчёта сделки.
var ErrDraining = errors.New("engine is finishing a pending settlement")

type Deps struct {
	Conn      Connection
	Market    Market
	Exec      Executor
	Stakes    Stakes
	Stats     *stats.Aggregator
	Store     storage.Store
	Evaluator strategy.Engine
	Sink      Sink
	Scheduler *sched.Scheduler
}

// Engine: конечный автомат Idle → Running → (Paused | Stopped) и торговый цикл.
type Engine struct {
	conn   Connection
	market Market
	exec   Executor
	stakes Stakes
	stats  *stats.Aggregator
	store  storage.Store
	eval   strategy.Engine
	sink   Sink
	sch    *sched.Scheduler
	opts   Options
	pick   func(n int) int

	mu       sync.Mutex
	state    models.EngineState
	reason   string
	settings Settings
	run      *EngineContext
}

func New(d Deps, settings Settings, opts Options) (*Engine, error) {
	s, err := settings.normalize()
	if err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}
	if d.Sink == nil {
		d.Sink = Sinks(nil)
	}
	return &Engine{
		conn:     d.Conn,
		market:   d.Market,
		exec:     d.Exec,
		stakes:   d.Stakes,
		stats:    d.Stats,
		store:    d.Store,
		eval:     d.Evaluator,
		sink:     d.Sink,
		sch:      d.Scheduler,
		opts:     opts.withDefaults(),
		pick:     rand.IntN,
		state:    models.StateIdle,
		settings: s,
	}, nil
}

// Restore поднимает сегодняшнюю историю из хранилища.
func (e *Engine) Restore(ctx context.Context) error {
	ops, err := e.store.List(ctx, storage.DayStart(e.sch.Now()))
	if err != nil {
		return fmt.Errorf("Restore: %w", err)
	}
	st := e.stats.Restore(ops)
	metrics.ProfitLoss.Set(st.ProfitLoss.InexactFloat64())
	logger.Info("[ENGINE] restored %d operations, pl=%s", st.TotalOperations, st.ProfitLoss)
	return nil
}

// Configure меняет настройки и обнуляет дневную статистику. Во время работы запрещено.
func (e *Engine) Configure(settings Settings) (Settings, error) {
	s, err := settings.normalize()
	if err != nil {
		return Settings{}, fmt.Errorf("Configure: %w", err)
	}

	e.mu.Lock()
	if e.run != nil {
		e.mu.Unlock()
		return Settings{}, fmt.Errorf("Configure: %w", models.ErrEngineRunning)
	}
	e.settings = s
	e.mu.Unlock()

	e.stats.Reset()
	metrics.ProfitLoss.Set(0)
	logger.Info("[ENGINE] configured: %s", s)
	e.publishUpdate("configured")
	return s, nil
}

func (e *Engine) Start(context.Context) error {
	e.mu.Lock()
	switch {
	case e.state == models.StateRunning:
		e.mu.Unlock()
		return fmt.Errorf("Start: %w", models.ErrEngineRunning)
	case e.run != nil && e.state != models.StatePaused:
		e.mu.Unlock()
		return fmt.Errorf("Start: %w", ErrDraining)
	case len(e.settings.Assets) == 0 && !e.settings.AllAssets:
		e.mu.Unlock()
		return fmt.Errorf("Start: %w", models.ErrNoAssets)
	case !e.conn.Session().Connected:
		e.mu.Unlock()
		return fmt.Errorf("Start: %w", models.ErrNotConnected)
	}

	var ec *EngineContext
	reason := "started"
	if e.run != nil {
		// Paused: цикл жив, просто продолжаем
		reason = "resumed by operator"
	} else {
		ec = newEngineContext(e.settings, e.sch.Now())
		e.run = ec
	}
	e.state = models.StateRunning
	e.reason = reason
	settings := e.settings
	e.mu.Unlock()

	logger.Info("[ENGINE] %s: %s", reason, settings)
	e.publish(models.NewStateEvent(e.sch.Now(), models.StateRunning, reason))
	if ec != nil {
		go e.loop(ec)
	}
	return nil
}

// Stop принимается всегда и не ждёт: размещённая сделка дорассчитается и
// запишется, после чего цикл выйдет. Дождаться можно через Wait.
func (e *Engine) Stop(reason string) {
	if reason == "" {
		reason = "stopped by operator"
	}
	e.mu.Lock()
	ec := e.run
	e.state = models.StateStopped
	e.reason = reason
	e.mu.Unlock()

	if ec != nil {
		ec.cancel()
	}
	logger.Info("[ENGINE] stop: %s", reason)
	e.publish(models.NewStateEvent(e.sch.Now(), models.StateStopped, reason))
}

// Wait ждёт выхода текущего цикла.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	ec := e.run
	e.mu.Unlock()
	if ec == nil {
		return nil
	}
	select {
	case <-ec.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) State() models.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		State:    e.state,
		Reason:   e.reason,
		Settings: e.settings,
	}
	if e.run != nil {
		started := e.run.StartedAt
		st.StartedAt = &started
	}
	e.mu.Unlock()

	st.Stats = e.stats.Snapshot()
	st.Session = e.conn.Session()
	st.Health = e.conn.Health()
	st.InFlight = e.exec.InFlight()
	st.Hours = e.opts.Hours.String()
	return st
}

// History: сделки текущего дня в порядке расчёта.
func (e *Engine) History() []models.Operation {
	return e.stats.History()
}

func (e *Engine) ClearHistory(ctx context.Context) error {
	e.mu.Lock()
	running := e.run != nil
	e.mu.Unlock()
	if running {
		return fmt.Errorf("ClearHistory: %w", models.ErrEngineRunning)
	}

	if err := e.store.Clear(ctx); err != nil {
		return fmt.Errorf("ClearHistory: %w", err)
	}
	e.stats.Reset()
	metrics.ProfitLoss.Set(0)
	e.publishUpdate("history cleared")
	return nil
}

func (e *Engine) SwitchAccount(ctx context.Context, mode models.AccountMode) (models.Session, error) {
	if e.State() == models.StateRunning {
		return models.Session{}, fmt.Errorf("SwitchAccount: %w", models.ErrEngineRunning)
	}
	s, err := e.conn.SwitchAccount(ctx, mode)
	if err != nil {
		return s, err
	}
	e.publishUpdate(fmt.Sprintf("account switched to %s", mode))
	return s, nil
}

// TestEntry: одна сделка базовой суммой по случайному открытому активу
// в случайную сторону. Расчёт идёт в фоне.
func (e *Engine) TestEntry(ctx context.Context) (models.Operation, error) {
	if !e.conn.Session().Connected {
		return models.Operation{}, fmt.Errorf("TestEntry: %w", models.ErrNotConnected)
	}
	s := e.Settings()

	assets, err := e.resolveAssets(ctx, s)
	if err != nil {
		return models.Operation{}, fmt.Errorf("TestEntry: %w", err)
	}
	open := make([]string, 0, len(assets))
	for _, a := range assets {
		st, err := e.market.AssetStatus(ctx, a, s.Instrument)
		if err == nil && st.Open {
			open = append(open, a)
		}
	}
	if len(open) == 0 {
		return models.Operation{}, fmt.Errorf("TestEntry: %w", models.ErrAssetUnavailable)
	}

	dir := models.DirectionCall
	if e.pick(2) == 1 {
		dir = models.DirectionPut
	}
	op, err := e.exec.Place(ctx, execution.PlaceRequest{
		Asset:             open[e.pick(len(open))],
		Amount:            s.Policy.BaseAmount,
		Direction:         dir,
		ExpirationMinutes: s.ExpirationMinutes,
		Instrument:        s.Instrument,
	})
	if err != nil {
		return models.Operation{}, fmt.Errorf("TestEntry: %w", err)
	}
	e.publishOperation(op)

	bg := context.WithoutCancel(ctx)
	go e.record(bg, e.exec.AwaitSettlement(bg, op))
	return op, nil
}

// WatchConnection переводит движок в Paused при фатальной ошибке связи
// и обратно в Running после восстановления.
func (e *Engine) WatchConnection(ctx context.Context) {
	events := e.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.onConnectionEvent(ev)
		}
	}
}

func (e *Engine) onConnectionEvent(ev models.ConnectionEvent) {
	switch ev.Kind {
	case models.ConnectionLost:
		e.publish(models.NewAlert(ev.At, models.LevelWarning, "", "broker connection lost, reconnecting"))

	case models.ConnectionFatal:
		msg := "broker connection failed"
		if ev.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, ev.Err)
		}
		e.mu.Lock()
		paused := e.state == models.StateRunning
		if paused {
			e.state = models.StatePaused
			e.reason = msg
		}
		e.mu.Unlock()

		logger.Error("[ENGINE] %s", msg)
		e.publish(models.NewAlert(ev.At, models.LevelError, "", msg))
		if paused {
			e.publish(models.NewStateEvent(ev.At, models.StatePaused, msg))
		}

	case models.ConnectionRestored:
		e.mu.Lock()
		resume := e.state == models.StatePaused && e.run != nil
		if resume {
			e.state = models.StateRunning
			e.reason = "connection restored"
		}
		e.mu.Unlock()

		e.publish(models.NewAlert(ev.At, models.LevelInfo, "", "broker connection restored"))
		if resume {
			logger.Info("[ENGINE] connection restored, resuming")
			e.publish(models.NewStateEvent(ev.At, models.StateRunning, "connection restored"))
		}
	}
}

// stopRun: автостоп из самого цикла; срабатывает только для своего запуска.
func (e *Engine) stopRun(ec *EngineContext, reason string) {
	e.mu.Lock()
	current := e.run == ec && e.state != models.StateStopped
	if current {
		e.state = models.StateStopped
		e.reason = reason
	}
	e.mu.Unlock()

	ec.cancel()
	if current {
		e.publish(models.NewStateEvent(e.sch.Now(), models.StateStopped, reason))
	}
}

func (e *Engine) publish(ev models.Event) {
	e.sink.Publish(ev)
}

func (e *Engine) publishUpdate(msg string) {
	e.publish(models.Event{
		Type:  models.EventUpdate,
		Level: models.LevelInfo,
		Time:  e.sch.Now(),
		Payload: models.UpdatePayload{
			State:   e.State(),
			Session: e.conn.Session(),
			Stats:   e.stats.Snapshot(),
			Message: msg,
		},
	})
}

func (e *Engine) publishOperation(op models.Operation) {
	e.publish(models.Event{
		Type:    models.EventOperation,
		Level:   models.LevelInfo,
		Time:    e.sch.Now(),
		Payload: models.OperationPayload{Operation: op, Stats: e.stats.Snapshot()},
	})
}
