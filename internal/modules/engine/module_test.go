package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_bot/internal/models"
	"options_bot/internal/modules/config"
	"options_bot/internal/modules/engine/service"
)

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Money.Kind = "martingale"
	cfg.Engine.Assets = []string{"EURUSD"}

	s, err := SettingsFromConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyMartingale, s.Policy.Kind)
	assert.Equal(t, "2", s.Policy.BaseAmount.String())
	assert.Equal(t, models.InstrumentDigital, s.Instrument)

	cfg.Money.Kind = "kelly"
	_, err = SettingsFromConfig(&cfg)
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.TradingHoursStart = "08:00"
	cfg.Engine.TradingHoursEnd = "20:00"
	cfg.Engine.FallbackMode = "best_effort"

	o, err := OptionsFromConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, service.FallbackBestEffort, o.Fallback)
	assert.Equal(t, "08:00-20:00", o.Hours.String())
	assert.Equal(t, 1, o.MaxTradesPerCycle)

	cfg.Engine.TradingHoursEnd = "bad"
	_, err = OptionsFromConfig(&cfg)
	assert.Error(t, err)
}
