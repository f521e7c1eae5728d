package service

import (
	"options_bot/internal/modules/config"
)

func NewEngine(cfg *config.Config) Engine {
	return NewStochastic(ParamsFromConfig(cfg.Strategy))
}
