package service

import (
	"fmt"

	"options_bot/internal/models"
	"options_bot/internal/modules/config"
)

const ReasonInsufficientData = "insufficient data"

type Params struct {
	KPeriod        int
	DPeriod        int
	Slowing        int
	UpperThreshold float64
	LowerThreshold float64
	SMAPeriod      int
}

func DefaultParams() Params {
	return Params{
		KPeriod:        14,
		DPeriod:        3,
		Slowing:        3,
		UpperThreshold: 90,
		LowerThreshold: 10,
		SMAPeriod:      20,
	}
}

func ParamsFromConfig(c config.Strategy) Params {
	p := DefaultParams()
	if c.KPeriod > 0 {
		p.KPeriod = c.KPeriod
	}
	if c.DPeriod > 0 {
		p.DPeriod = c.DPeriod
	}
	if c.Slowing > 0 {
		p.Slowing = c.Slowing
	}
	if c.SMAPeriod > 0 {
		p.SMAPeriod = c.SMAPeriod
	}
	if c.UpperThreshold > 0 {
		p.UpperThreshold = c.UpperThreshold
	}
	if c.LowerThreshold > 0 {
		p.LowerThreshold = c.LowerThreshold
	}
	return p
}

// Stochastic: стохастик + SMA как фильтр тренда.
type Stochastic struct {
	p Params
}

func NewStochastic(p Params) *Stochastic {
	return &Stochastic{p: p}
}

func (s *Stochastic) Name() string { return "stochastic_sma" }

func (s *Stochastic) Params() Params { return s.p }

func (s *Stochastic) MinCandles() int {
	return max(s.p.KPeriod, s.p.SMAPeriod) + s.p.Slowing + s.p.DPeriod
}

func (s *Stochastic) Evaluate(asset string, candles []models.Candle) models.Signal {
	sig := models.Signal{Asset: asset, Direction: models.DirectionNone}
	if len(candles) < s.MinCandles() {
		sig.Reason = ReasonInsufficientData
		return sig
	}

	n := len(candles)
	last := candles[n-1].Close

	k, kOK := stochK(candles, s.p.KPeriod, s.p.Slowing)
	d, dOK := smaSeries(k, kOK, s.p.DPeriod)
	sma := smaClose(candles, s.p.SMAPeriod)

	trend := models.TrendDown
	if last > sma {
		trend = models.TrendUp
	}

	sig.Snapshot = models.IndicatorSnapshot{
		SMA:   sma,
		Trend: trend,
		Price: last,
	}
	if kOK[n-1] {
		sig.Snapshot.StochasticK = k[n-1]
	}
	if dOK[n-1] {
		sig.Snapshot.StochasticD = d[n-1]
	}

	if !kOK[n-1] || !kOK[n-2] {
		sig.Reason = "flat range, %K undefined"
		return sig
	}

	prev, cur := k[n-2], k[n-1]
	switch {
	case prev < s.p.LowerThreshold && cur >= s.p.LowerThreshold && trend == models.TrendUp:
		sig.Direction = models.DirectionCall
		sig.Reason = fmt.Sprintf("%%K crossed up %.2f -> %.2f through %.0f, close %.5f > sma %.5f",
			prev, cur, s.p.LowerThreshold, last, sma)
	case prev > s.p.UpperThreshold && cur <= s.p.UpperThreshold && trend == models.TrendDown:
		sig.Direction = models.DirectionPut
		sig.Reason = fmt.Sprintf("%%K crossed down %.2f -> %.2f through %.0f, close %.5f <= sma %.5f",
			prev, cur, s.p.UpperThreshold, last, sma)
	}
	return sig
}

// stochK возвращает сглаженный %K и маску определённости по каждой свече.
// При HH == LL берётся предыдущее значение сырого %K.
func stochK(candles []models.Candle, period, slowing int) ([]float64, []bool) {
	n := len(candles)
	raw := make([]float64, n)
	rawOK := make([]bool, n)

	for i := period - 1; i < n; i++ {
		window := candles[i-period+1 : i+1]
		hh, ll := highestHigh(window), lowestLow(window)
		switch {
		case hh > ll:
			raw[i] = 100 * (candles[i].Close - ll) / (hh - ll)
			rawOK[i] = true
		case i > 0 && rawOK[i-1]:
			raw[i] = raw[i-1]
			rawOK[i] = true
		}
	}

	if slowing <= 1 {
		return raw, rawOK
	}
	return smaSeries(raw, rawOK, slowing)
}

// smaSeries: скользящее среднее по ряду с пропусками; точка определена,
// только если определено всё окно.
func smaSeries(xs []float64, ok []bool, period int) ([]float64, []bool) {
	n := len(xs)
	out := make([]float64, n)
	outOK := make([]bool, n)
	if period <= 1 {
		copy(out, xs)
		copy(outOK, ok)
		return out, outOK
	}

	for i := period - 1; i < n; i++ {
		sum := 0.0
		full := true
		for j := i - period + 1; j <= i; j++ {
			if !ok[j] {
				full = false
				break
			}
			sum += xs[j]
		}
		if full {
			out[i] = sum / float64(period)
			outOK[i] = true
		}
	}
	return out, outOK
}

func smaClose(candles []models.Candle, period int) float64 {
	window := candles[len(candles)-period:]
	sum := 0.0
	for _, c := range window {
		sum += c.Close
	}
	return sum / float64(period)
}

func highestHigh(cs []models.Candle) float64 {
	m := cs[0].High
	for _, c := range cs[1:] {
		if c.High > m {
			m = c.High
		}
	}
	return m
}

func lowestLow(cs []models.Candle) float64 {
	m := cs[0].Low
	for _, c := range cs[1:] {
		if c.Low < m {
			m = c.Low
		}
	}
	return m
}
