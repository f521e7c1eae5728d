package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"options_bot/internal/models"
	execution "options_bot/internal/modules/execution/service"
	"options_bot/internal/modules/metrics"
	"options_bot/pkg/logger"
)

// errAutoStopped: цикл сам остановил движок по stop gain / stop loss.
var errAutoStopped = errors.New("auto stopped")

func (e *Engine) loop(ec *EngineContext) {
	defer func() {
		e.mu.Lock()
		if e.run == ec {
			e.run = nil
		}
		e.mu.Unlock()
		close(ec.done)
		logger.Info("[ENGINE] loop finished")
	}()

	for {
		wait := e.opts.CycleInterval
		err := e.cycle(ec)
		switch {
		case errors.Is(err, errAutoStopped):
			return
		case err != nil && ec.ctx.Err() == nil:
			metrics.CyclesTotal.WithLabelValues("error").Inc()
			logger.Error("[ENGINE] cycle: %v", err)
			e.publish(models.NewAlert(e.sch.Now(), models.LevelWarning, "", err.Error()))
			wait = e.opts.ErrorBackoff
		}

		if err := e.sch.Sleep(ec.ctx, wait); err != nil {
			return
		}
	}
}

// cycle: один проход по активам. Ошибки отдельных активов собираются
// и возвращаются вместе; следующий цикл тогда ждёт ErrorBackoff.
func (e *Engine) cycle(ec *EngineContext) (err error) {
	ctx := ec.ctx
	if ctx.Err() != nil {
		return nil
	}
	if e.State() != models.StateRunning {
		metrics.CyclesTotal.WithLabelValues("paused").Inc()
		return nil
	}
	now := e.sch.Now()
	if !e.opts.Hours.Contains(now) {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		e.publishUpdate(fmt.Sprintf("outside trading hours %s", e.opts.Hours))
		return nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "engine.cycle")
	defer func() {
		if err != nil && !errors.Is(err, errAutoStopped) {
			ext.Error.Set(span, true)
			span.LogKV("error", err.Error())
		}
		span.Finish()
	}()

	if err := e.conn.EnsureConnected(ctx); err != nil {
		return fmt.Errorf("cycle: %w", err)
	}
	if e.checkStop(ec) {
		return errAutoStopped
	}

	assets, err := e.resolveAssets(ctx, ec.Settings)
	if err != nil {
		return fmt.Errorf("cycle: %w", err)
	}

	var errs []error
	trades := 0
	for _, asset := range assets {
		if ctx.Err() != nil || e.State() != models.StateRunning {
			break
		}
		if trades >= e.opts.MaxTradesPerCycle {
			break
		}

		placed, err := e.processAsset(ctx, ec, asset)
		if err != nil {
			logger.Warn("[ENGINE] %v", err)
			errs = append(errs, err)
			continue
		}
		if !placed {
			continue
		}
		trades++
		if e.checkStop(ec) {
			return errAutoStopped
		}
	}

	if len(errs) == 0 {
		metrics.CyclesTotal.WithLabelValues("ok").Inc()
	}
	return errors.Join(errs...)
}

// resolveAssets: явный список или все открытые у брокера с запасным вариантом.
func (e *Engine) resolveAssets(ctx context.Context, s Settings) ([]string, error) {
	if !s.AllAssets {
		if len(s.Assets) == 0 {
			return nil, models.ErrNoAssets
		}
		return s.Assets, nil
	}

	open, err := e.market.OpenAssets(ctx, s.Instrument)
	if err == nil && len(open) > 0 {
		return open, nil
	}
	if err == nil {
		err = models.ErrNoAssets
	}

	if e.opts.Fallback == FallbackBestEffort && len(e.opts.FallbackAssets) > 0 {
		logger.Warn("[ENGINE] open assets unavailable (%v), using fallback list", err)
		e.publish(models.NewAlert(e.sch.Now(), models.LevelInfo, "", "open assets unavailable, using fallback list"))
		return e.opts.FallbackAssets, nil
	}
	return nil, fmt.Errorf("resolve open assets: %w", err)
}

// processAsset: статус → свечи → сигнал → сделка. true, если сделка была.
func (e *Engine) processAsset(ctx context.Context, ec *EngineContext, asset string) (bool, error) {
	st, err := e.market.AssetStatus(ctx, asset, ec.Settings.Instrument)
	if err != nil {
		return false, fmt.Errorf("%s: asset status: %w", asset, err)
	}
	if !st.Open {
		logger.Debug("[ENGINE] %s closed, skip", asset)
		return false, nil
	}

	candles, err := e.market.Candles(ctx, asset, ec.Settings.CandleTimeframe, e.candleCount())
	if err != nil {
		return false, fmt.Errorf("%s: candles: %w", asset, err)
	}

	sig := e.eval.Evaluate(asset, candles)
	e.publish(models.Event{
		Type:    models.EventAnalysis,
		Level:   models.LevelInfo,
		Time:    e.sch.Now(),
		Payload: sig,
	})
	if !sig.HasSignal() {
		return false, nil
	}
	metrics.SignalsTotal.WithLabelValues(asset, string(sig.Direction)).Inc()
	logger.Info("[ENGINE] signal %s %s k=%.1f d=%.1f trend=%s",
		asset, sig.Direction, sig.Snapshot.StochasticK, sig.Snapshot.StochasticD, sig.Snapshot.Trend)

	return e.trade(ctx, ec, asset, sig.Direction)
}

func (e *Engine) trade(ctx context.Context, ec *EngineContext, asset string, dir models.Direction) (bool, error) {
	policy := ec.Settings.Policy
	stake := e.stakes.NextStake(e.stats.History(), e.stats.ProfitLoss(), policy)
	if !stake.IsPositive() {
		return false, nil
	}

	op, err := e.exec.Place(ctx, execution.PlaceRequest{
		Asset:             asset,
		Amount:            stake,
		Direction:         dir,
		ExpirationMinutes: ec.Settings.ExpirationMinutes,
		Instrument:        ec.Settings.Instrument,
	})
	if err != nil {
		return false, e.placementFailed(asset, err)
	}
	e.publishOperation(op)

	// Stop отсюда уже не прерывает: трекер ждёт расчёт без отмены.
	e.record(ctx, e.exec.AwaitSettlement(ctx, op))
	return true, nil
}

// placementFailed: недоступный актив и отказ брокера не считаются ошибкой цикла.
func (e *Engine) placementFailed(asset string, err error) error {
	var pe *models.PlacementError
	switch {
	case errors.Is(err, models.ErrAssetUnavailable):
		e.publish(models.NewAlert(e.sch.Now(), models.LevelInfo, asset, "asset unavailable, skipped"))
		return nil
	case errors.As(err, &pe):
		logger.Warn("[ENGINE] %v", err)
		e.publish(models.NewAlert(e.sch.Now(), models.LevelWarning, asset, err.Error()))
		return nil
	}
	return fmt.Errorf("%s: place: %w", asset, err)
}

// record: статистика, журнал, события. Повторная запись того же ID ничего не делает.
func (e *Engine) record(ctx context.Context, op models.Operation) {
	st, ok := e.stats.Record(op)
	if !ok {
		return
	}
	metrics.ProfitLoss.Set(st.ProfitLoss.InexactFloat64())

	bg := context.WithoutCancel(ctx)
	if err := e.store.Save(bg, op); err != nil {
		logger.Error("[ENGINE] persist %s: %v", op.ID, err)
		e.publish(models.NewAlert(e.sch.Now(), models.LevelWarning, op.Asset, "operation not persisted: "+err.Error()))
	}
	if op.Outcome == models.OutcomeError {
		e.publish(models.NewAlert(e.sch.Now(), models.LevelWarning, op.Asset,
			fmt.Sprintf("order %s: %s, counted as loss of %s", op.ID, op.Error, op.Amount)))
	}

	e.publish(models.Event{
		Type:    models.EventOperation,
		Level:   models.LevelInfo,
		Time:    e.sch.Now(),
		Payload: models.OperationPayload{Operation: op, Stats: st},
	})

	if _, err := e.conn.RefreshBalance(bg); err != nil {
		logger.Warn("[ENGINE] balance refresh: %v", err)
	}
	e.publishUpdate("")
}

func (e *Engine) checkStop(ec *EngineContext) bool {
	pl := e.stats.ProfitLoss()
	if !e.stakes.ShouldStop(pl, ec.Settings.Policy) {
		return false
	}

	reason := "stop gain reached"
	if pl.IsNegative() {
		reason = "stop loss reached"
	}
	reason = fmt.Sprintf("%s: profit/loss %s", reason, pl.StringFixed(2))
	logger.Info("[ENGINE] %s", reason)
	e.publish(models.NewAlert(e.sch.Now(), models.LevelInfo, "", reason))
	e.stopRun(ec, reason)
	return true
}

func (e *Engine) candleCount() int {
	n := e.opts.CandleCount
	if need := e.eval.MinCandles(); n < need {
		n = need
	}
	return n
}
