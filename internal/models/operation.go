package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type InstrumentKind string

const (
	InstrumentDigital InstrumentKind = "digital"
	InstrumentBinary  InstrumentKind = "binary"
)

func ParseInstrument(s string) (InstrumentKind, error) {
	switch InstrumentKind(strings.ToLower(strings.TrimSpace(s))) {
	case InstrumentDigital, "":
		return InstrumentDigital, nil
	case InstrumentBinary:
		return InstrumentBinary, nil
	}
	return "", fmt.Errorf("unknown instrument kind %q", s)
}

type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
	OutcomeDraw    Outcome = "draw"
	OutcomeError   Outcome = "error"
)

// OutcomeFromProfit классифицирует закрытую сделку по результату.
func OutcomeFromProfit(profit decimal.Decimal) Outcome {
	switch profit.Sign() {
	case 1:
		return OutcomeWin
	case -1:
		return OutcomeLoss
	}
	return OutcomeDraw
}

// Operation: одна сделка от размещения до расчёта.
type Operation struct {
	ID                string          `json:"id"`
	Asset             string          `json:"asset"`
	Direction         Direction       `json:"direction"`
	Amount            decimal.Decimal `json:"amount"`
	ExpirationMinutes int             `json:"expiration_minutes"`
	Instrument        InstrumentKind  `json:"instrument"`
	PlacedAt          time.Time       `json:"placed_at"`
	SettledAt         time.Time       `json:"settled_at,omitempty"`
	Outcome           Outcome         `json:"outcome"`
	ProfitAmount      decimal.Decimal `json:"profit_amount"`
	Error             string          `json:"error,omitempty"`
}

func (o Operation) Settled() bool {
	return o.Outcome != "" && o.Outcome != OutcomePending
}

// LostStake: loss или error, для money management это проигрыш.
func (o Operation) LostStake() bool {
	return o.Outcome == OutcomeLoss || o.Outcome == OutcomeError
}
