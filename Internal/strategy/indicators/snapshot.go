package indicators

import (
	"fmt"

	"github.com/fazecat/signalpilot/Internal/types"
)

// Snapshot holds every indicator computed from one window; nil means unavailable
type Snapshot struct {
	RSI         *float64         `json:"rsi,omitempty"`
	MACD        *MACDValue       `json:"macd,omitempty"`
	Bollinger   *BollingerBands  `json:"bollinger,omitempty"`
	Stochastic  *StochasticValue `json:"stochastic,omitempty"`
	ATR         *float64         `json:"atr,omitempty"`
	EMA         map[int]float64  `json:"ema,omitempty"`
	Close       float64          `json:"close"`
	CandleCount int              `json:"candle_count"`
}

// Compute is pure: the same candles and config always yield the same snapshot
func Compute(candles []types.Candle, cfg Config) Snapshot {
	snap := Snapshot{
		EMA:         make(map[int]float64),
		CandleCount: len(candles),
	}
	if len(candles) == 0 {
		return snap
	}

	closes := ClosingPrices(candles)
	snap.Close = closes[len(closes)-1]

	if rsi, ok := CalculateRSI(closes, cfg.RSI.Period); ok {
		snap.RSI = &rsi
	}
	for _, period := range cfg.EMA.Periods {
		if ema, ok := CalculateEMA(closes, period); ok {
			snap.EMA[period] = ema
		}
	}
	if macd, ok := CalculateMACD(closes, cfg.MACD.Fast, cfg.MACD.Slow, cfg.MACD.Signal); ok {
		snap.MACD = &macd
	}
	if bands, ok := CalculateBollinger(closes, cfg.Bollinger.Period, cfg.Bollinger.StdDev); ok {
		snap.Bollinger = &bands
	}
	if stoch, ok := CalculateStochastic(candles, cfg.Stochastic.KPeriod, cfg.Stochastic.DPeriod); ok {
		snap.Stochastic = &stoch
	}
	if atr, ok := CalculateATR(candles, cfg.ATR.Period); ok {
		snap.ATR = &atr
	}
	return snap
}

// ToMap flattens the available values for attaching to a signal
func (s Snapshot) ToMap() map[string]float64 {
	out := map[string]float64{"close": s.Close}
	if s.RSI != nil {
		out["rsi"] = *s.RSI
	}
	if s.MACD != nil {
		out["macd_line"] = s.MACD.Line
		out["macd_signal"] = s.MACD.Signal
		out["macd_histogram"] = s.MACD.Histogram
	}
	if s.Bollinger != nil {
		out["bb_upper"] = s.Bollinger.Upper
		out["bb_middle"] = s.Bollinger.Middle
		out["bb_lower"] = s.Bollinger.Lower
	}
	if s.Stochastic != nil {
		out["stoch_k"] = s.Stochastic.K
		out["stoch_d"] = s.Stochastic.D
	}
	if s.ATR != nil {
		out["atr"] = *s.ATR
	}
	for period, v := range s.EMA {
		out[fmt.Sprintf("ema_%d", period)] = v
	}
	return out
}
