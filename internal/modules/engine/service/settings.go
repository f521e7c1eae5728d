package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"options_bot/internal/helper"
	"options_bot/internal/models"
)

// Settings: то, что оператор задаёт через configure.
type Settings struct {
	Policy            models.MoneyPolicy    `json:"policy"`
	Assets            []string              `json:"assets"`
	AllAssets         bool                  `json:"all_assets"`
	CandleTimeframe   int                   `json:"candle_timeframe"`
	ExpirationMinutes int                   `json:"expiration_minutes"`
	Instrument        models.InstrumentKind `json:"instrument"`
}

func (s Settings) normalize() (Settings, error) {
	s.Policy = s.Policy.WithDefaults()
	if err := s.Policy.Validate(); err != nil {
		return Settings{}, err
	}

	seen := make(map[string]struct{}, len(s.Assets))
	assets := make([]string, 0, len(s.Assets))
	for _, a := range s.Assets {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		assets = append(assets, a)
	}
	s.Assets = assets

	if s.CandleTimeframe <= 0 {
		s.CandleTimeframe = 60
	}
	if s.ExpirationMinutes <= 0 {
		s.ExpirationMinutes = 1
	}
	kind, err := models.ParseInstrument(string(s.Instrument))
	if err != nil {
		return Settings{}, err
	}
	s.Instrument = kind
	return s, nil
}

type FallbackMode string

const (
	// FallbackStrict: нет списка активов от брокера, цикл пропускается.
	FallbackStrict FallbackMode = "strict"
	// FallbackBestEffort: торгуем по FallbackAssets.
	FallbackBestEffort FallbackMode = "best_effort"
)

type Options struct {
	CycleInterval     time.Duration
	ErrorBackoff      time.Duration
	CandleCount       int
	MaxTradesPerCycle int
	Fallback          FallbackMode
	FallbackAssets    []string
	Hours             helper.Window
}

func DefaultOptions() Options {
	return Options{
		CycleInterval:     30 * time.Second,
		ErrorBackoff:      5 * time.Second,
		CandleCount:       100,
		MaxTradesPerCycle: 1,
		Fallback:          FallbackStrict,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.CycleInterval <= 0 {
		o.CycleInterval = d.CycleInterval
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = d.ErrorBackoff
	}
	if o.CandleCount <= 0 {
		o.CandleCount = d.CandleCount
	}
	if o.MaxTradesPerCycle <= 0 {
		o.MaxTradesPerCycle = d.MaxTradesPerCycle
	}
	if o.Fallback == "" {
		o.Fallback = d.Fallback
	}
	return o
}

// EngineContext живёт от Start до выхода из цикла.
type EngineContext struct {
	Settings  Settings
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newEngineContext(s Settings, now time.Time) *EngineContext {
	ctx, cancel := context.WithCancel(context.Background())
	return &EngineContext{
		Settings:  s,
		StartedAt: now,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (ec *EngineContext) Done() <-chan struct{} { return ec.done }

// Status: снимок для API и CLI.
type Status struct {
	State     models.EngineState      `json:"state"`
	Reason    string                  `json:"reason,omitempty"`
	Settings  Settings                `json:"settings"`
	Stats     models.DailyStats       `json:"stats"`
	Session   models.Session          `json:"session"`
	Health    models.ConnectionHealth `json:"health"`
	InFlight  []models.Operation      `json:"in_flight"`
	StartedAt *time.Time              `json:"started_at,omitempty"`
	Hours     string                  `json:"trading_hours"`
}

func (s Settings) String() string {
	assets := strings.Join(s.Assets, ",")
	if s.AllAssets {
		assets = "all"
	}
	return fmt.Sprintf("%s base=%s assets=%s tf=%ds exp=%dm %s",
		s.Policy.Kind, s.Policy.BaseAmount, assets, s.CandleTimeframe, s.ExpirationMinutes, s.Instrument)
}
