package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"options_bot/internal/models"
)

// PaperBroker: симулятор брокера в памяти. Цены идут детерминированным
// случайным блужданием, сделки закрываются по часам после экспирации.
type PaperBroker struct {
	clk    clock.Clock
	payout decimal.Decimal

	mu        sync.Mutex
	connected bool
	mode      models.AccountMode
	balances  map[models.AccountMode]decimal.Decimal
	closed    map[string]bool
	orders    map[string]*paperOrder
	nextID    int64
}

type paperOrder struct {
	asset     string
	amount    decimal.Decimal
	direction models.Direction
	entry     float64
	expiresAt time.Time
	settled   bool
	profit    decimal.Decimal
}

var paperAssets = map[string]float64{
	"EURUSD": 1.0850,
	"GBPUSD": 1.2700,
	"USDJPY": 151.20,
	"AUDUSD": 0.6550,
	"EURJPY": 163.90,
	"USDCAD": 1.3550,
}

func NewPaperBroker(clk clock.Clock, payout float64) *PaperBroker {
	if payout <= 0 {
		payout = 0.87
	}
	return &PaperBroker{
		clk:    clk,
		payout: decimal.NewFromFloat(payout),
		mode:   models.AccountPractice,
		balances: map[models.AccountMode]decimal.Decimal{
			models.AccountPractice: decimal.NewFromInt(10000),
			models.AccountReal:     decimal.Zero,
		},
		closed: make(map[string]bool),
		orders: make(map[string]*paperOrder),
	}
}

// SetClosed помечает актив закрытым для торговли.
func (p *PaperBroker) SetClosed(asset string, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed[asset] = closed
}

// Drop имитирует обрыв соединения.
func (p *PaperBroker) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
}

func (p *PaperBroker) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *PaperBroker) CheckConnect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *PaperBroker) Ping(context.Context) error {
	if !p.CheckConnect() {
		return ErrClosed
	}
	return nil
}

func (p *PaperBroker) ChangeBalance(_ context.Context, mode models.AccountMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.balances[mode]; !ok {
		return &RemoteError{Op: "change_balance", Message: "unknown mode " + string(mode)}
	}
	p.mode = mode
	return nil
}

func (p *PaperBroker) GetBalance(context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settleDue()
	return p.balances[p.mode], nil
}

func (p *PaperBroker) GetAllOpenTime(context.Context) (OpenTimes, error) {
	if !p.CheckConnect() {
		return nil, ErrClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := OpenTimes{MarketDigital: {}, MarketTurbo: {}, MarketBinary: {}}
	for asset := range paperAssets {
		open := !p.closed[asset]
		out[MarketDigital][asset] = map[string]any{"open": open}
		out[MarketTurbo][asset] = map[string]any{"open": open}
		out[MarketBinary][asset] = open
	}
	return out, nil
}

func (p *PaperBroker) GetCandles(_ context.Context, asset string, timeframeSec, count int, end time.Time) ([]RawCandle, error) {
	if !p.CheckConnect() {
		return nil, ErrClosed
	}
	if _, ok := paperAssets[asset]; !ok {
		return nil, &RemoteError{Op: "get_candles", Message: "unknown asset " + asset}
	}
	if timeframeSec <= 0 {
		timeframeSec = 60
	}

	tf := int64(timeframeSec)
	last := end.Unix() - end.Unix()%tf
	out := make([]RawCandle, 0, count)
	for i := count - 1; i >= 0; i-- {
		from := last - int64(i)*tf
		open := paperPrice(asset, from)
		closeP := paperPrice(asset, from+tf)
		spread := math.Abs(closeP-open) + open*0.0002
		out = append(out, RawCandle{
			ID:     from / tf,
			From:   from,
			To:     from + tf,
			Open:   open,
			Close:  closeP,
			Max:    math.Max(open, closeP) + spread/2,
			Min:    math.Min(open, closeP) - spread/2,
			Volume: float64(100 + from%50),
		})
	}
	return out, nil
}

func (p *PaperBroker) BuyDigital(
	ctx context.Context,
	asset string,
	amount decimal.Decimal,
	direction models.Direction,
	durationMin int,
) (string, error) {
	return p.open("buy_digital_spot", asset, amount, direction, durationMin)
}

func (p *PaperBroker) BuyBinary(
	ctx context.Context,
	amount decimal.Decimal,
	asset string,
	direction models.Direction,
	expirationMin int,
) (string, error) {
	return p.open("buy", asset, amount, direction, expirationMin)
}

func (p *PaperBroker) open(op, asset string, amount decimal.Decimal, direction models.Direction, expMin int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return "", ErrClosed
	}
	if _, ok := paperAssets[asset]; !ok || p.closed[asset] {
		return "", &RemoteError{Op: op, Message: "asset closed " + asset}
	}
	if amount.GreaterThan(p.balances[p.mode]) {
		return "", &RemoteError{Op: op, Message: "insufficient balance"}
	}

	now := p.clk.Now()
	p.nextID++
	id := strconv.FormatInt(p.nextID, 10)
	p.orders[id] = &paperOrder{
		asset:     asset,
		amount:    amount,
		direction: direction,
		entry:     paperPrice(asset, now.Unix()),
		expiresAt: now.Add(time.Duration(expMin) * time.Minute),
	}
	p.balances[p.mode] = p.balances[p.mode].Sub(amount)
	return id, nil
}

func (p *PaperBroker) CheckResult(_ context.Context, _ models.InstrumentKind, orderID string) (decimal.Decimal, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return decimal.Zero, false, &RemoteError{Op: "check_win", Message: fmt.Sprintf("unknown order %s", orderID)}
	}
	p.settleDue()
	return o.profit, o.settled, nil
}

func (p *PaperBroker) Close() error {
	p.Drop()
	return nil
}

// settleDue закрывает просроченные сделки. Вызывать под p.mu.
func (p *PaperBroker) settleDue() {
	now := p.clk.Now()
	for _, o := range p.orders {
		if o.settled || now.Before(o.expiresAt) {
			continue
		}
		exit := paperPrice(o.asset, o.expiresAt.Unix())
		won := (o.direction == models.DirectionCall && exit > o.entry) ||
			(o.direction == models.DirectionPut && exit < o.entry)

		switch {
		case exit == o.entry:
			o.profit = decimal.Zero
			p.balances[p.mode] = p.balances[p.mode].Add(o.amount)
		case won:
			o.profit = o.amount.Mul(p.payout).Round(2)
			p.balances[p.mode] = p.balances[p.mode].Add(o.amount).Add(o.profit)
		default:
			o.profit = o.amount.Neg()
		}
		o.settled = true
	}
}

// paperPrice: цена актива в момент ts; одинаковая для одного и того же ts.
func paperPrice(asset string, ts int64) float64 {
	base := paperAssets[asset]
	h := fnv.New64a()
	_, _ = h.Write([]byte(asset))
	seed := int64(h.Sum64())

	minute := ts / 60
	r := rand.New(rand.NewSource(seed ^ minute))
	noise := (r.Float64() - 0.5) * 0.004
	wave := 0.003 * math.Sin(float64(minute)/17)
	return base * (1 + wave + noise)
}
