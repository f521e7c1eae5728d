package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/shopspring/decimal"

	"options_bot/internal/models"
	"options_bot/internal/modules/metrics"
	"options_bot/pkg/logger"
	"options_bot/pkg/sched"
)

// Broker: то, что трекеру нужно от брокерской сессии.
type Broker interface {
	AssetStatus(ctx context.Context, asset string, kind models.InstrumentKind) (models.AssetStatus, error)
	Buy(ctx context.Context, kind models.InstrumentKind, asset string, amount decimal.Decimal, direction models.Direction, expirationMin int) (string, error)
	Result(ctx context.Context, kind models.InstrumentKind, orderID string) (decimal.Decimal, bool, error)
}

type Config struct {
	PollInterval time.Duration
	Grace        time.Duration
}

func DefaultConfig() Config {
	return Config{PollInterval: time.Second, Grace: 30 * time.Second}
}

type PlaceRequest struct {
	Asset             string
	Amount            decimal.Decimal
	Direction         models.Direction
	ExpirationMinutes int
	Instrument        models.InstrumentKind
}

// Tracker размещает ордера и ждёт их расчёта опросом брокера.
type Tracker struct {
	broker Broker
	sch    *sched.Scheduler
	cfg    Config

	mu       sync.Mutex
	inflight map[string]models.Operation
}

func NewTracker(b Broker, sch *sched.Scheduler, cfg Config) *Tracker {
	if cfg.PollInterval <= 0 || cfg.PollInterval > time.Second {
		cfg.PollInterval = time.Second
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	return &Tracker{
		broker:   b,
		sch:      sch,
		cfg:      cfg,
		inflight: make(map[string]models.Operation),
	}
}

// Place проверяет доступность актива и отправляет ордер.
// Закрытый актив: ErrAssetUnavailable, до брокера запрос не доходит.
func (t *Tracker) Place(ctx context.Context, req PlaceRequest) (op models.Operation, err error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "tracker.Place")
	span.SetTag("asset", req.Asset)
	span.SetTag("direction", string(req.Direction))
	defer func() {
		if err != nil {
			ext.Error.Set(span, true)
			span.LogKV("error", err.Error())
		}
		span.Finish()
	}()

	if req.Instrument == "" {
		req.Instrument = models.InstrumentDigital
	}
	if err = validate(req); err != nil {
		return models.Operation{}, err
	}

	st, err := t.broker.AssetStatus(ctx, req.Asset, req.Instrument)
	if err != nil {
		return models.Operation{}, fmt.Errorf("Place %s: %w", req.Asset, err)
	}
	if !st.Open {
		return models.Operation{}, fmt.Errorf("Place %s: %w", req.Asset, models.ErrAssetUnavailable)
	}

	id, err := t.broker.Buy(ctx, req.Instrument, req.Asset, req.Amount, req.Direction, req.ExpirationMinutes)
	if err != nil {
		metrics.PlacementErrorsTotal.WithLabelValues(req.Asset).Inc()
		return models.Operation{}, &models.PlacementError{Asset: req.Asset, Reason: "rejected by broker", Err: err}
	}

	op = models.Operation{
		ID:                id,
		Asset:             req.Asset,
		Direction:         req.Direction,
		Amount:            req.Amount,
		ExpirationMinutes: req.ExpirationMinutes,
		Instrument:        req.Instrument,
		PlacedAt:          t.sch.Now(),
		Outcome:           models.OutcomePending,
	}

	t.mu.Lock()
	t.inflight[id] = op
	t.mu.Unlock()

	logger.Info("[ORDER] placed %s %s %s amount=%s exp=%dm id=%s",
		req.Instrument, req.Asset, req.Direction, req.Amount, req.ExpirationMinutes, id)
	return op, nil
}

func validate(req PlaceRequest) error {
	switch {
	case req.Asset == "":
		return &models.PlacementError{Reason: "empty asset"}
	case !req.Direction.Valid():
		return &models.PlacementError{Asset: req.Asset, Reason: fmt.Sprintf("invalid direction %q", req.Direction)}
	case !req.Amount.IsPositive():
		return &models.PlacementError{Asset: req.Asset, Reason: "amount must be positive"}
	case req.ExpirationMinutes < 1:
		return &models.PlacementError{Asset: req.Asset, Reason: "expiration must be at least one minute"}
	}
	return nil
}

// AwaitSettlement опрашивает результат до expiration*60 + grace.
// Отмена ctx игнорируется: размещённый ордер всегда дожидаемся.
// По таймауту: outcome error и убыток в размере ставки.
func (t *Tracker) AwaitSettlement(ctx context.Context, op models.Operation) models.Operation {
	ctx = context.WithoutCancel(ctx)
	span, ctx := opentracing.StartSpanFromContext(ctx, "tracker.AwaitSettlement")
	span.SetTag("order_id", op.ID)
	defer span.Finish()

	timeout := time.Duration(op.ExpirationMinutes)*time.Minute + t.cfg.Grace

	var profit decimal.Decimal
	polls := 0
	err := t.sch.Poll(ctx, t.cfg.PollInterval, timeout, func(ctx context.Context) (bool, error) {
		polls++
		p, settled, err := t.broker.Result(ctx, op.Instrument, op.ID)
		if err != nil {
			logger.Warn("[ORDER] result %s: %v", op.ID, err)
			return false, nil
		}
		if settled {
			profit = p
		}
		return settled, nil
	})

	if err != nil {
		op.Outcome = models.OutcomeError
		op.ProfitAmount = op.Amount.Neg()
		op.Error = err.Error()
		if errors.Is(err, sched.ErrPollTimeout) {
			op.Error = models.ErrSettlementTimeout.Error()
		}
		ext.Error.Set(span, true)
		logger.Error("[ORDER] %s %s: no result after %s, counted as loss", op.Asset, op.ID, timeout)
	} else {
		op.Outcome = models.OutcomeFromProfit(profit)
		op.ProfitAmount = profit
	}
	op.SettledAt = t.sch.Now()
	span.SetTag("outcome", string(op.Outcome))
	span.SetTag("polls", polls)

	t.mu.Lock()
	delete(t.inflight, op.ID)
	t.mu.Unlock()

	metrics.OrdersTotal.WithLabelValues(op.Asset, string(op.Outcome)).Inc()
	logger.Info("[ORDER] settled %s id=%s outcome=%s profit=%s", op.Asset, op.ID, op.Outcome, op.ProfitAmount)
	return op
}

// Execute = Place + AwaitSettlement.
func (t *Tracker) Execute(ctx context.Context, req PlaceRequest) (models.Operation, error) {
	op, err := t.Place(ctx, req)
	if err != nil {
		return models.Operation{}, err
	}
	return t.AwaitSettlement(ctx, op), nil
}

// InFlight: размещённые и ещё не рассчитанные ордера.
func (t *Tracker) InFlight() []models.Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Operation, 0, len(t.inflight))
	for _, op := range t.inflight {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out
}
