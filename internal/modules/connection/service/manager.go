package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"options_bot/internal/models"
	broker "options_bot/internal/modules/broker/service"
	"options_bot/internal/modules/metrics"
	"options_bot/pkg/logger"
	"options_bot/pkg/sched"
)

type RetryConfig struct {
	MaxRetries int           // всего попыток, включая первую
	Delay      time.Duration // фиксированная пауза между попытками
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 5, Delay: 5 * time.Second}
}

// Manager владеет брокерской сессией: подключение, проверка живости,
// heartbeat и переподключение с ограниченным числом попыток.
type Manager struct {
	api   broker.API
	sch   *sched.Scheduler
	retry RetryConfig

	mu      sync.RWMutex
	session models.Session
	mode    models.AccountMode
	health  models.ConnectionHealth

	group  singleflight.Group
	events chan models.ConnectionEvent
}

func NewManager(api broker.API, sch *sched.Scheduler, retry RetryConfig, mode models.AccountMode) *Manager {
	if retry.MaxRetries < 1 {
		retry.MaxRetries = 1
	}
	if mode == "" {
		mode = models.AccountPractice
	}
	return &Manager{
		api:    api,
		sch:    sch,
		retry:  retry,
		mode:   mode,
		events: make(chan models.ConnectionEvent, 16),
	}
}

// Events: lost / restored / fatal. Читает движок.
func (m *Manager) Events() <-chan models.ConnectionEvent { return m.events }

// Connect делает одну попытку: логин, выбор счёта, баланс.
func (m *Manager) Connect(ctx context.Context) (models.Session, error) {
	if err := m.connectOnce(ctx, m.Mode()); err != nil {
		m.recordFailure(err)
		return models.Session{}, err
	}
	m.recordSuccess()
	return m.Session(), nil
}

func (m *Manager) connectOnce(ctx context.Context, mode models.AccountMode) error {
	if err := m.api.Connect(ctx); err != nil {
		return err
	}
	if err := m.api.ChangeBalance(ctx, mode); err != nil {
		return &models.ConnectError{Err: fmt.Errorf("change balance to %s: %w", mode, err)}
	}
	balance, err := m.api.GetBalance(ctx)
	if err != nil {
		return &models.ConnectError{Err: fmt.Errorf("get balance: %w", err)}
	}

	m.mu.Lock()
	m.session = models.Session{
		Connected:   true,
		AccountMode: mode,
		Balance:     balance,
		UpdatedAt:   m.sch.Now(),
	}
	m.mu.Unlock()
	metrics.ConnectionUp.Set(1)
	return nil
}

// IsAlive спрашивает брокера; при первом обнаружении обрыва шлёт lost.
func (m *Manager) IsAlive() bool {
	alive := m.api.CheckConnect()
	if alive {
		return true
	}

	m.mu.Lock()
	wasConnected := m.session.Connected
	m.session.Connected = false
	m.mu.Unlock()

	if wasConnected {
		metrics.ConnectionUp.Set(0)
		m.emit(models.ConnectionLost, nil)
	}
	return false
}

// EnsureConnected идемпотентен: при живой сессии сразу nil, иначе все
// одновременные вызовы ждут одну и ту же попытку переподключения.
// Отмена ctx освобождает только этого вызывающего, попытка продолжается.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if m.IsAlive() {
		return nil
	}

	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan("reconnect", func() (any, error) {
		return nil, m.reconnect(shared)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (m *Manager) reconnect(ctx context.Context) error {
	mode := m.Mode()
	attempt := 0

	operation := func() error {
		attempt++
		metrics.ReconnectAttemptsTotal.Inc()

		err := m.connectOnce(ctx, mode)
		if err != nil {
			m.recordFailure(err)
			logger.Warn("[CONN] reconnect attempt %d/%d failed: %v", attempt, m.retry.MaxRetries, err)
			return err
		}
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retry.Delay), uint64(m.retry.MaxRetries-1)),
		ctx,
	)
	if err := backoff.RetryNotifyWithTimer(operation, b, nil, m.sch.BackoffTimer()); err != nil {
		m.mu.Lock()
		m.session.Connected = false
		m.mu.Unlock()
		metrics.ConnectionUp.Set(0)

		err = fmt.Errorf("EnsureConnected: giving up after %d attempts: %w", attempt, err)
		logger.Error("[CONN] %v", err)
		m.emit(models.ConnectionFatal, err)
		return err
	}

	m.recordSuccess()
	logger.Info("[CONN] reconnected after %d attempt(s), account %s", attempt, mode)
	m.emit(models.ConnectionRestored, nil)
	return nil
}

// StartSupervision запускает проверку живости и heartbeat как две
// независимые горутины; обе завершаются с ctx.
func (m *Manager) StartSupervision(ctx context.Context, checkInterval, heartbeatInterval time.Duration) {
	go m.sch.Every(ctx, checkInterval, func(ctx context.Context) {
		if err := m.EnsureConnected(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("[CONN] liveness: %v", err)
		}
	})

	go m.sch.Every(ctx, heartbeatInterval, func(ctx context.Context) {
		if !m.api.CheckConnect() {
			return
		}
		if err := m.api.Ping(ctx); err != nil {
			logger.Warn("[CONN] heartbeat failed: %v", err)
			return
		}
		m.mu.Lock()
		m.health.LastHeartbeat = m.sch.Now()
		m.mu.Unlock()
	})
}

// SwitchAccount меняет счёт; выбранный режим восстанавливается после реконнекта.
func (m *Manager) SwitchAccount(ctx context.Context, mode models.AccountMode) (models.Session, error) {
	if err := m.api.ChangeBalance(ctx, mode); err != nil {
		return m.Session(), fmt.Errorf("SwitchAccount: %w", err)
	}
	m.mu.Lock()
	m.mode = mode
	m.session.AccountMode = mode
	m.mu.Unlock()

	if _, err := m.RefreshBalance(ctx); err != nil {
		return m.Session(), err
	}
	return m.Session(), nil
}

func (m *Manager) RefreshBalance(ctx context.Context) (decimal.Decimal, error) {
	balance, err := m.api.GetBalance(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("RefreshBalance: %w", err)
	}
	m.mu.Lock()
	m.session.Balance = balance
	m.session.UpdatedAt = m.sch.Now()
	m.mu.Unlock()
	return balance, nil
}

// Disconnect закрывает сессию явно; событий не шлёт.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.session.Connected = false
	m.mu.Unlock()
	metrics.ConnectionUp.Set(0)
	return m.api.Close()
}

func (m *Manager) Session() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

func (m *Manager) Mode() models.AccountMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

func (m *Manager) Health() models.ConnectionHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

func (m *Manager) recordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health.ConsecutiveFailures++
	m.health.LastError = err.Error()
}

func (m *Manager) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.health.ConsecutiveFailures > 0 {
		m.health.TotalReconnects++
	}
	m.health.ConsecutiveFailures = 0
	m.health.LastError = ""
}

func (m *Manager) emit(kind models.ConnectionEventKind, err error) {
	ev := models.ConnectionEvent{Kind: kind, Err: err, At: m.sch.Now()}
	select {
	case m.events <- ev:
	default:
		logger.Warn("[CONN] event queue full, dropped %s", kind)
	}
}
