package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"options_bot/internal/models"
)

// Session приводит ответы брокера к моделям движка. Это единственное место,
// где разбирается форма ответа о доступности активов.
type Session struct {
	api API
	clk clock.Clock
}

func NewSession(api API, clk clock.Clock) *Session {
	if clk == nil {
		clk = clock.New()
	}
	return &Session{api: api, clk: clk}
}

func (s *Session) API() API { return s.api }

// AssetStatus: digital смотрит рынок digital, binary смотрит turbo или binary.
// Неизвестный актив считается закрытым.
func (s *Session) AssetStatus(ctx context.Context, asset string, kind models.InstrumentKind) (models.AssetStatus, error) {
	all, err := s.api.GetAllOpenTime(ctx)
	if err != nil {
		return models.AssetStatus{}, fmt.Errorf("AssetStatus: %w", err)
	}
	return statusIn(all, asset, kind), nil
}

// OpenAssets: все открытые активы для вида инструмента, по алфавиту.
func (s *Session) OpenAssets(ctx context.Context, kind models.InstrumentKind) ([]string, error) {
	all, err := s.api.GetAllOpenTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("OpenAssets: %w", err)
	}

	seen := make(map[string]struct{})
	for _, market := range marketsFor(kind) {
		for asset, raw := range all[market] {
			if isOpen(raw) {
				seen[asset] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for asset := range seen {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out, nil
}

// Candles возвращает окно от старых к новым.
func (s *Session) Candles(ctx context.Context, asset string, timeframeSec, count int) ([]models.Candle, error) {
	raw, err := s.api.GetCandles(ctx, asset, timeframeSec, count, s.clk.Now())
	if err != nil {
		return nil, fmt.Errorf("Candles %s: %w", asset, err)
	}

	out := make([]models.Candle, 0, len(raw))
	for _, c := range raw {
		out = append(out, models.Candle{
			Open:      c.Open,
			High:      c.Max,
			Low:       c.Min,
			Close:     c.Close,
			Volume:    c.Volume,
			Timestamp: time.Unix(c.From, 0).UTC(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Session) Buy(
	ctx context.Context,
	kind models.InstrumentKind,
	asset string,
	amount decimal.Decimal,
	direction models.Direction,
	expirationMin int,
) (string, error) {
	if kind == models.InstrumentBinary {
		return s.api.BuyBinary(ctx, amount, asset, direction, expirationMin)
	}
	return s.api.BuyDigital(ctx, asset, amount, direction, expirationMin)
}

func (s *Session) Result(ctx context.Context, kind models.InstrumentKind, orderID string) (decimal.Decimal, bool, error) {
	return s.api.CheckResult(ctx, kind, orderID)
}

func marketsFor(kind models.InstrumentKind) []string {
	if kind == models.InstrumentBinary {
		return []string{MarketTurbo, MarketBinary}
	}
	return []string{MarketDigital}
}

func statusIn(all OpenTimes, asset string, kind models.InstrumentKind) models.AssetStatus {
	for _, market := range marketsFor(kind) {
		raw, ok := all[market][asset]
		if ok && isOpen(raw) {
			return models.AssetStatus{Open: true}
		}
	}
	return models.AssetStatus{Open: false}
}

// isOpen разбирает все встречающиеся формы значения.
func isOpen(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case map[string]any:
		open, _ := v["open"].(bool)
		return open
	case models.AssetStatus:
		return v.Open
	}
	return false
}
