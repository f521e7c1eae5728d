package service

import (
	"sync"

	"github.com/shopspring/decimal"

	"options_bot/internal/models"
)

// Aggregator: дневная статистика и история закрытых сделок.
// Каждая сделка учитывается не более одного раза (по ID).
type Aggregator struct {
	mu        sync.RWMutex
	stats     models.DailyStats
	history   []models.Operation
	processed map[string]struct{}
}

func NewAggregator() *Aggregator {
	return &Aggregator{processed: make(map[string]struct{})}
}

// Record учитывает закрытую сделку. recorded == false для pending и повторов.
func (a *Aggregator) Record(op models.Operation) (models.DailyStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !op.Settled() {
		return a.stats, false
	}
	if _, seen := a.processed[op.ID]; seen {
		return a.stats, false
	}
	a.processed[op.ID] = struct{}{}
	a.apply(op)
	a.history = append(a.history, op)

	return a.stats, true
}

func (a *Aggregator) apply(op models.Operation) {
	s := &a.stats
	first := s.TotalOperations == 0
	s.TotalOperations++

	switch op.Outcome {
	case models.OutcomeWin:
		s.Wins++
	case models.OutcomeLoss:
		s.Losses++
	case models.OutcomeError:
		s.Losses++
		s.Errors++
	case models.OutcomeDraw:
		s.Draws++
	}
	s.WinRate = float64(s.Wins) / float64(s.TotalOperations) * 100

	s.ProfitLoss = s.ProfitLoss.Add(op.ProfitAmount)
	if op.ProfitAmount.GreaterThan(s.MaxProfit) {
		s.MaxProfit = op.ProfitAmount
	}
	if op.ProfitAmount.LessThan(s.MaxLoss) {
		s.MaxLoss = op.ProfitAmount
	}

	if first {
		s.MaxAmount, s.MinAmount = op.Amount, op.Amount
		return
	}
	s.MaxAmount = decimal.Max(s.MaxAmount, op.Amount)
	s.MinAmount = decimal.Min(s.MinAmount, op.Amount)
}

func (a *Aggregator) Snapshot() models.DailyStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

func (a *Aggregator) ProfitLoss() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats.ProfitLoss
}

// History: копия в порядке расчёта.
func (a *Aggregator) History() []models.Operation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Operation, len(a.history))
	copy(out, a.history)
	return out
}

// Reset обнуляет счётчики, историю и множество учтённых ID.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats = models.DailyStats{}
	a.history = nil
	a.processed = make(map[string]struct{})
}

// Restore пересобирает статистику из сохранённых сделок.
func (a *Aggregator) Restore(ops []models.Operation) models.DailyStats {
	a.Reset()
	for _, op := range ops {
		a.Record(op)
	}
	return a.Snapshot()
}
