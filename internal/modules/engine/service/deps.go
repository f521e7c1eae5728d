package service

import (
	"context"

	"github.com/shopspring/decimal"

	"options_bot/internal/models"
	execution "options_bot/internal/modules/execution/service"
)

// Connection: то, что движку нужно от менеджера соединения.
type Connection interface {
	Session() models.Session
	Health() models.ConnectionHealth
	EnsureConnected(ctx context.Context) error
	Events() <-chan models.ConnectionEvent
	SwitchAccount(ctx context.Context, mode models.AccountMode) (models.Session, error)
	RefreshBalance(ctx context.Context) (decimal.Decimal, error)
}

// Market: рыночные данные брокерской сессии.
type Market interface {
	AssetStatus(ctx context.Context, asset string, kind models.InstrumentKind) (models.AssetStatus, error)
	OpenAssets(ctx context.Context, kind models.InstrumentKind) ([]string, error)
	Candles(ctx context.Context, asset string, timeframeSec, count int) ([]models.Candle, error)
}

type Executor interface {
	Place(ctx context.Context, req execution.PlaceRequest) (models.Operation, error)
	AwaitSettlement(ctx context.Context, op models.Operation) models.Operation
	InFlight() []models.Operation
}

type Stakes interface {
	ShouldStop(profitLoss decimal.Decimal, policy models.MoneyPolicy) bool
	NextStake(history []models.Operation, profitLoss decimal.Decimal, policy models.MoneyPolicy) decimal.Decimal
}

// Sink получает события движка. Publish не должен блокировать.
type Sink interface {
	Publish(ev models.Event)
}

// Sinks раздаёт событие всем подписчикам по порядку.
type Sinks []Sink

func (s Sinks) Publish(ev models.Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(ev)
		}
	}
}
