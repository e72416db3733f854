package indicators

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/fazecat/signalpilot/Internal/types"
)

type MACDValue struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

type BollingerBands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// PercentB locates price inside the bands, 0 at the lower band and 1 at the upper band
func (b BollingerBands) PercentB(price float64) float64 {
	width := b.Upper - b.Lower
	if width == 0 {
		return 0.5
	}
	return (price - b.Lower) / width
}

// Bandwidth is the band width relative to the middle band
func (b BollingerBands) Bandwidth() float64 {
	if b.Middle == 0 {
		return 0
	}
	return (b.Upper - b.Lower) / b.Middle
}

type StochasticValue struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

func ClosingPrices(candles []types.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// CalculateRSI uses Wilder smoothing seeded with the simple mean of the first period changes
func CalculateRSI(closes []float64, period int) (float64, bool) {
	if period < 1 || len(closes) < period+1 {
		return 0, false
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// CalculateEMASeries seeds with the first value and smooths with alpha = 2/(period+1)
func CalculateEMASeries(values []float64, period int) []float64 {
	if len(values) == 0 || period < 1 {
		return nil
	}
	alpha := 2.0 / float64(period+1)
	ema := make([]float64, len(values))
	ema[0] = values[0]
	for i := 1; i < len(values); i++ {
		ema[i] = alpha*values[i] + (1-alpha)*ema[i-1]
	}
	return ema
}

// CalculateEMA returns the latest EMA, unavailable until period values exist
func CalculateEMA(values []float64, period int) (float64, bool) {
	if period < 1 || len(values) < period {
		return 0, false
	}
	series := CalculateEMASeries(values, period)
	return series[len(series)-1], true
}

func CalculateMACD(closes []float64, fast, slow, signal int) (MACDValue, bool) {
	if fast < 1 || slow < 1 || signal < 1 || len(closes) < slow+signal-1 {
		return MACDValue{}, false
	}

	fastEMA := CalculateEMASeries(closes, fast)
	slowEMA := CalculateEMASeries(closes, slow)
	line := make([]float64, len(closes))
	floats.SubTo(line, fastEMA, slowEMA)

	signalSeries := CalculateEMASeries(line, signal)
	last := len(line) - 1
	return MACDValue{
		Line:      line[last],
		Signal:    signalSeries[last],
		Histogram: line[last] - signalSeries[last],
	}, true
}

// CalculateBollinger uses the population standard deviation over the trailing period
func CalculateBollinger(closes []float64, period int, stdDev float64) (BollingerBands, bool) {
	if period < 1 || len(closes) < period {
		return BollingerBands{}, false
	}
	window := closes[len(closes)-period:]
	sma, sigma := stat.PopMeanStdDev(window, nil)
	return BollingerBands{
		Upper:  sma + stdDev*sigma,
		Middle: sma,
		Lower:  sma - stdDev*sigma,
	}, true
}

// StochasticK computes %K for the bar at index end over the trailing kPeriod bars
func StochasticK(candles []types.Candle, end, kPeriod int) float64 {
	highs := make([]float64, kPeriod)
	lows := make([]float64, kPeriod)
	for i := 0; i < kPeriod; i++ {
		c := candles[end-kPeriod+1+i]
		highs[i] = c.High
		lows[i] = c.Low
	}
	highest := floats.Max(highs)
	lowest := floats.Min(lows)
	if highest == lowest {
		return 50
	}
	k := 100 * (candles[end].Close - lowest) / (highest - lowest)
	return math.Max(0, math.Min(100, k))
}

func CalculateStochastic(candles []types.Candle, kPeriod, dPeriod int) (StochasticValue, bool) {
	if kPeriod < 1 || dPeriod < 1 || len(candles) < kPeriod+dPeriod-1 {
		return StochasticValue{}, false
	}

	last := len(candles) - 1
	ks := make([]float64, dPeriod)
	for i := 0; i < dPeriod; i++ {
		ks[i] = StochasticK(candles, last-dPeriod+1+i, kPeriod)
	}
	return StochasticValue{
		K: ks[dPeriod-1],
		D: stat.Mean(ks, nil),
	}, true
}

func TrueRange(c, prev types.Candle) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev.Close), math.Abs(c.Low-prev.Close)))
}

// CalculateATR is the simple mean of the trailing period true ranges
func CalculateATR(candles []types.Candle, period int) (float64, bool) {
	if period < 1 || len(candles) < period+1 {
		return 0, false
	}
	trs := make([]float64, period)
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		trs[i-start] = TrueRange(candles[i], candles[i-1])
	}
	return stat.Mean(trs, nil), true
}
