package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"options_bot/internal/models"
)

// Названия рынков в ответе GetAllOpenTime.
const (
	MarketDigital = "digital"
	MarketTurbo   = "turbo"
	MarketBinary  = "binary"
)

var ErrClosed = errors.New("broker: connection closed")

// RemoteError: брокер ответил отказом на операцию.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string { return fmt.Sprintf("broker %s: %s", e.Op, e.Message) }

// OpenTimes хранит сырой ответ о доступности, market -> asset -> значение.
// Значение бывает объектом {"open": bool}, голым bool или отсутствует.
type OpenTimes map[string]map[string]any

// RawCandle: свеча в формате брокера.
type RawCandle struct {
	ID     int64   `json:"id"`
	From   int64   `json:"from"`
	To     int64   `json:"to"`
	Open   float64 `json:"open"`
	Close  float64 `json:"close"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Volume float64 `json:"volume"`
}

// API: то, что движок использует от брокерской библиотеки.
type API interface {
	Connect(ctx context.Context) error
	CheckConnect() bool
	Ping(ctx context.Context) error
	ChangeBalance(ctx context.Context, mode models.AccountMode) error
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetAllOpenTime(ctx context.Context) (OpenTimes, error)
	GetCandles(ctx context.Context, asset string, timeframeSec, count int, end time.Time) ([]RawCandle, error)
	BuyDigital(ctx context.Context, asset string, amount decimal.Decimal, direction models.Direction, durationMin int) (string, error)
	BuyBinary(ctx context.Context, amount decimal.Decimal, asset string, direction models.Direction, expirationMin int) (string, error)
	// CheckResult: settled == false, пока сделка не закрыта.
	CheckResult(ctx context.Context, kind models.InstrumentKind, orderID string) (profit decimal.Decimal, settled bool, err error)
	Close() error
}
