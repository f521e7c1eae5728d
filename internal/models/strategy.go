package models

import "time"

type Direction string

const (
	DirectionNone Direction = ""
	DirectionCall Direction = "call"
	DirectionPut  Direction = "put"
)

func (d Direction) Valid() bool {
	return d == DirectionCall || d == DirectionPut
}

type Trend string

const (
	TrendUp       Trend = "up"
	TrendDown     Trend = "down"
	TrendSideways Trend = "sideways"
)

// Candle: одна свеча, окна всегда от старых к новым.
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

type IndicatorSnapshot struct {
	StochasticK float64 `json:"stochastic_k"`
	StochasticD float64 `json:"stochastic_d"`
	SMA         float64 `json:"sma"`
	Trend       Trend   `json:"trend"`
	Price       float64 `json:"price"`
}

type Signal struct {
	Asset     string            `json:"asset"`
	Direction Direction         `json:"direction"`
	Snapshot  IndicatorSnapshot `json:"snapshot"`
	Reason    string            `json:"reason,omitempty"`
}

func (s Signal) HasSignal() bool { return s.Direction.Valid() }

// AssetStatus: нормализованная доступность актива.
type AssetStatus struct {
	Open bool `json:"open"`
}
