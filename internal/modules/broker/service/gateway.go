package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"options_bot/internal/models"
	"options_bot/pkg/logger"
)

type GatewayConfig struct {
	URL            string
	Email          string
	Password       string
	RequestTimeout time.Duration
}

// GatewayClient: JSON-RPC поверх WebSocket к шлюзу брокера.
// Один read-loop раздаёт ответы ожидающим вызовам по id.
type GatewayClient struct {
	cfg    GatewayConfig
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan gatewayResponse

	writeMu sync.Mutex
	alive   atomic.Bool
}

type gatewayRequest struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Args any    `json:"args,omitempty"`
}

type gatewayResponse struct {
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Auth  bool            `json:"auth_error,omitempty"`
}

func NewGatewayClient(cfg GatewayConfig) *GatewayClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &GatewayClient{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pending: make(map[string]chan gatewayResponse),
	}
}

// Connect открывает соединение и логинится. Старое соединение закрывается.
func (c *GatewayClient) Connect(ctx context.Context) error {
	_ = c.Close()

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, http.Header{})
	if err != nil {
		return &models.ConnectError{Err: fmt.Errorf("dial %s: %w", c.cfg.URL, err)}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.alive.Store(true)

	go c.readLoop(conn)

	err = c.call(ctx, "login", map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	}, nil)
	if err != nil {
		_ = c.Close()
		var re *RemoteError
		if errors.As(err, &re) {
			return &models.ConnectError{Auth: true, Err: err}
		}
		return &models.ConnectError{Err: err}
	}
	return nil
}

func (c *GatewayClient) CheckConnect() bool {
	return c.alive.Load()
}

// Ping: control-фрейм; ошибка записи означает, что соединение мертво.
func (c *GatewayClient) Ping(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	err := conn.WriteControl(websocket.PingMessage, nil, deadline)
	c.writeMu.Unlock()
	if err != nil {
		c.alive.Store(false)
		return fmt.Errorf("Ping: %w", err)
	}
	return nil
}

func (c *GatewayClient) ChangeBalance(ctx context.Context, mode models.AccountMode) error {
	return c.call(ctx, "change_balance", map[string]string{"mode": string(mode)}, nil)
}

func (c *GatewayClient) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var out decimal.Decimal
	if err := c.call(ctx, "get_balance", nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out, nil
}

func (c *GatewayClient) GetAllOpenTime(ctx context.Context) (OpenTimes, error) {
	out := make(OpenTimes)
	if err := c.call(ctx, "get_all_open_time", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GatewayClient) GetCandles(ctx context.Context, asset string, timeframeSec, count int, end time.Time) ([]RawCandle, error) {
	var out []RawCandle
	err := c.call(ctx, "get_candles", map[string]any{
		"asset":     asset,
		"timeframe": timeframeSec,
		"count":     count,
		"end":       end.Unix(),
	}, &out)
	return out, err
}

func (c *GatewayClient) BuyDigital(
	ctx context.Context,
	asset string,
	amount decimal.Decimal,
	direction models.Direction,
	durationMin int,
) (string, error) {
	return c.buy(ctx, "buy_digital_spot", asset, amount, direction, durationMin)
}

func (c *GatewayClient) BuyBinary(
	ctx context.Context,
	amount decimal.Decimal,
	asset string,
	direction models.Direction,
	expirationMin int,
) (string, error) {
	return c.buy(ctx, "buy", asset, amount, direction, expirationMin)
}

func (c *GatewayClient) buy(
	ctx context.Context,
	op, asset string,
	amount decimal.Decimal,
	direction models.Direction,
	expirationMin int,
) (string, error) {
	var out struct {
		OrderID json.Number `json:"order_id"`
	}
	err := c.call(ctx, op, map[string]any{
		"asset":      asset,
		"amount":     amount.InexactFloat64(),
		"direction":  string(direction),
		"expiration": expirationMin,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", &RemoteError{Op: op, Message: "empty order id"}
	}
	return out.OrderID.String(), nil
}

func (c *GatewayClient) CheckResult(ctx context.Context, kind models.InstrumentKind, orderID string) (decimal.Decimal, bool, error) {
	op := "check_win_digital"
	if kind == models.InstrumentBinary {
		op = "check_win"
	}

	var out struct {
		Settled bool            `json:"settled"`
		Profit  decimal.Decimal `json:"profit"`
	}
	if err := c.call(ctx, op, map[string]string{"order_id": orderID}, &out); err != nil {
		return decimal.Zero, false, err
	}
	return out.Profit, out.Settled, nil
}

func (c *GatewayClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.alive.Store(false)
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *GatewayClient) call(ctx context.Context, op string, args any, out any) error {
	id := uuid.NewString()
	ch := make(chan gatewayResponse, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	payload, err := sonic.Marshal(gatewayRequest{ID: id, Op: op, Args: args})
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.alive.Store(false)
		return fmt.Errorf("%s: write: %w", op, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%s: request timeout after %s", op, c.cfg.RequestTimeout)
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", op, ErrClosed)
		}
		if !resp.OK {
			return &RemoteError{Op: op, Message: strings.TrimSpace(resp.Error)}
		}
		if out == nil || len(resp.Data) == 0 {
			return nil
		}
		if err := sonic.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("%s: decode: %w", op, err)
		}
		return nil
	}
}

func (c *GatewayClient) readLoop(conn *websocket.Conn) {
	defer c.failPending(conn)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Warn("[GATEWAY] read error: %v", err)
			return
		}

		var resp gatewayResponse
		if err := sonic.Unmarshal(msg, &resp); err != nil || resp.ID == "" {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// failPending закрывает ожидания, если read-loop завершился на текущем соединении.
func (c *GatewayClient) failPending(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn && c.conn != nil {
		return
	}
	if c.conn == conn {
		c.conn = nil
		_ = conn.Close()
	}
	c.alive.Store(false)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
