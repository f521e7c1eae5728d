package models

import "github.com/shopspring/decimal"

type DailyStats struct {
	TotalOperations int             `json:"total_operations"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	Draws           int             `json:"draws"`
	Errors          int             `json:"errors"`
	WinRate         float64         `json:"win_rate"`
	ProfitLoss      decimal.Decimal `json:"profit_loss"`
	MaxProfit       decimal.Decimal `json:"max_profit"`
	MaxLoss         decimal.Decimal `json:"max_loss"`
	MaxAmount       decimal.Decimal `json:"max_amount"`
	MinAmount       decimal.Decimal `json:"min_amount"`
}
