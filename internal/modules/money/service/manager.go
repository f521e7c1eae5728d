package service

import (
	"github.com/shopspring/decimal"

	"options_bot/internal/models"
)

// Manager считает размер следующей ставки и условия остановки.
// Состояния нет: всё берётся из истории и текущего P/L.
type Manager struct{}

func NewManager() *Manager { return &Manager{} }

// ShouldStop: true, если достигнут stop gain или stop loss.
func (m *Manager) ShouldStop(profitLoss decimal.Decimal, policy models.MoneyPolicy) bool {
	if profitLoss.GreaterThanOrEqual(policy.StopGain) {
		return true
	}
	return profitLoss.LessThanOrEqual(policy.StopLoss.Neg())
}

// NextStake возвращает ставку для следующей сделки; ноль означает "не торговать".
func (m *Manager) NextStake(
	history []models.Operation,
	profitLoss decimal.Decimal,
	policy models.MoneyPolicy,
) decimal.Decimal {
	policy = policy.WithDefaults()
	if m.ShouldStop(profitLoss, policy) {
		return decimal.Zero
	}

	last, ok := lastSettled(history)
	if !ok {
		return policy.BaseAmount
	}

	var stake decimal.Decimal
	switch policy.Kind {
	case models.PolicyMartingale:
		if !last.LostStake() {
			return policy.BaseAmount
		}
		stake = last.Amount.Mul(policy.Multiplier)
	case models.PolicySoros:
		if last.Outcome != models.OutcomeWin {
			return policy.BaseAmount
		}
		stake = last.Amount.Add(last.ProfitAmount)
	default:
		return policy.BaseAmount
	}

	return decimal.Min(stake, policy.MaxStake())
}

// lastSettled: последняя закрытая сделка, pending пропускаем.
func lastSettled(history []models.Operation) (models.Operation, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Settled() {
			return history[i], true
		}
	}
	return models.Operation{}, false
}
