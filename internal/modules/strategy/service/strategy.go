package service

import "options_bot/internal/models"

// Engine оценивает окно свечей по одному активу. Реализации чистые:
// один и тот же вход даёт один и тот же сигнал.
type Engine interface {
	Evaluate(asset string, candles []models.Candle) models.Signal
	// MinCandles: сколько свечей нужно для определённого сигнала.
	MinCandles() int
	Name() string
}
