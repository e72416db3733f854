package signals

import (
	"fmt"
	"math"
	"time"

	"github.com/fazecat/signalpilot/Internal/strategy/indicators"
	"github.com/fazecat/signalpilot/Internal/types"
)

// Indicator is the closed set of directional scorers, evaluated in declaration order
type Indicator int

const (
	IndicatorRSI Indicator = iota
	IndicatorMACD
	IndicatorBollinger
	IndicatorStochastic
	IndicatorEMATrend
)

var evaluationOrder = []Indicator{
	IndicatorRSI,
	IndicatorMACD,
	IndicatorBollinger,
	IndicatorStochastic,
	IndicatorEMATrend,
}

func (i Indicator) String() string {
	switch i {
	case IndicatorRSI:
		return "RSI"
	case IndicatorMACD:
		return "MACD"
	case IndicatorBollinger:
		return "Bollinger"
	case IndicatorStochastic:
		return "Stochastic"
	case IndicatorEMATrend:
		return "EMA Trend"
	}
	return fmt.Sprintf("Indicator(%d)", int(i))
}

// Weights need not sum to 1; the weighted sum is clipped instead
type Weights struct {
	RSI        float64 `yaml:"rsi"`
	MACD       float64 `yaml:"macd"`
	Bollinger  float64 `yaml:"bollinger"`
	Stochastic float64 `yaml:"stochastic"`
	EMATrend   float64 `yaml:"ema_trend"`
}

func DefaultWeights() Weights {
	return Weights{
		RSI:        0.35,
		MACD:       0.25,
		Bollinger:  0.20,
		Stochastic: 0.20,
		EMATrend:   0.10,
	}
}

func (w Weights) For(ind Indicator) float64 {
	switch ind {
	case IndicatorRSI:
		return w.RSI
	case IndicatorMACD:
		return w.MACD
	case IndicatorBollinger:
		return w.Bollinger
	case IndicatorStochastic:
		return w.Stochastic
	case IndicatorEMATrend:
		return w.EMATrend
	}
	return 0
}

type SignalComponent struct {
	Indicator  Indicator
	Score      float64 // -1 bearish .. +1 bullish
	Confidence float64
	Weight     float64
	Reason     string
}

func (c SignalComponent) Contribution() float64 {
	return c.Score * c.Weight
}

// RSI bands: graded oversold/overbought buckets
func calculateRSIScore(snap indicators.Snapshot) SignalComponent {
	comp := SignalComponent{Indicator: IndicatorRSI}
	if snap.RSI == nil {
		return comp
	}
	rsi := *snap.RSI
	switch {
	case rsi < 20:
		comp.Score, comp.Confidence = 1.0, 0.9
		comp.Reason = fmt.Sprintf("RSI extremely oversold (%.1f)", rsi)
	case rsi < 30:
		comp.Score, comp.Confidence = 0.8, 0.8
		comp.Reason = fmt.Sprintf("RSI oversold (%.1f)", rsi)
	case rsi < 40:
		comp.Score, comp.Confidence = 0.4, 0.5
		comp.Reason = fmt.Sprintf("RSI leaning oversold (%.1f)", rsi)
	case rsi > 80:
		comp.Score, comp.Confidence = -1.0, 0.9
		comp.Reason = fmt.Sprintf("RSI extremely overbought (%.1f)", rsi)
	case rsi > 70:
		comp.Score, comp.Confidence = -0.8, 0.8
		comp.Reason = fmt.Sprintf("RSI overbought (%.1f)", rsi)
	case rsi > 60:
		comp.Score, comp.Confidence = -0.4, 0.5
		comp.Reason = fmt.Sprintf("RSI leaning overbought (%.1f)", rsi)
	}
	return comp
}

func calculateMACDScore(snap indicators.Snapshot) SignalComponent {
	comp := SignalComponent{Indicator: IndicatorMACD}
	if snap.MACD == nil {
		return comp
	}
	m := *snap.MACD
	switch {
	case m.Histogram > 0 && m.Line > 0:
		comp.Score, comp.Confidence = 0.8, 0.7
		comp.Reason = fmt.Sprintf("MACD bullish above zero (hist %.5f)", m.Histogram)
	case m.Histogram > 0:
		comp.Score, comp.Confidence = 0.5, 0.6
		comp.Reason = fmt.Sprintf("MACD histogram positive (%.5f)", m.Histogram)
	case m.Histogram < 0 && m.Line < 0:
		comp.Score, comp.Confidence = -0.8, 0.7
		comp.Reason = fmt.Sprintf("MACD bearish below zero (hist %.5f)", m.Histogram)
	case m.Histogram < 0:
		comp.Score, comp.Confidence = -0.5, 0.6
		comp.Reason = fmt.Sprintf("MACD histogram negative (%.5f)", m.Histogram)
	}
	return comp
}

func calculateBollingerScore(snap indicators.Snapshot) SignalComponent {
	comp := SignalComponent{Indicator: IndicatorBollinger}
	if snap.Bollinger == nil {
		return comp
	}
	bands := *snap.Bollinger
	pctB := bands.PercentB(snap.Close)
	switch {
	case snap.Close < bands.Lower:
		comp.Score, comp.Confidence = 1.0, 0.8
		comp.Reason = fmt.Sprintf("Price below lower Bollinger band (%.5f)", bands.Lower)
	case pctB < 0.2:
		comp.Score, comp.Confidence = 0.5, 0.6
		comp.Reason = fmt.Sprintf("Price near lower Bollinger band (%%B %.2f)", pctB)
	case snap.Close > bands.Upper:
		comp.Score, comp.Confidence = -1.0, 0.8
		comp.Reason = fmt.Sprintf("Price above upper Bollinger band (%.5f)", bands.Upper)
	case pctB > 0.8:
		comp.Score, comp.Confidence = -0.5, 0.6
		comp.Reason = fmt.Sprintf("Price near upper Bollinger band (%%B %.2f)", pctB)
	}
	return comp
}

func calculateStochasticScore(snap indicators.Snapshot) SignalComponent {
	comp := SignalComponent{Indicator: IndicatorStochastic}
	if snap.Stochastic == nil {
		return comp
	}
	k := snap.Stochastic.K
	switch {
	case k < 20:
		comp.Score, comp.Confidence = 1.0, 0.75
		comp.Reason = fmt.Sprintf("Stochastic oversold (%%K %.1f)", k)
	case k < 30:
		comp.Score, comp.Confidence = 0.5, 0.55
		comp.Reason = fmt.Sprintf("Stochastic leaning oversold (%%K %.1f)", k)
	case k > 80:
		comp.Score, comp.Confidence = -1.0, 0.75
		comp.Reason = fmt.Sprintf("Stochastic overbought (%%K %.1f)", k)
	case k > 70:
		comp.Score, comp.Confidence = -0.5, 0.55
		comp.Reason = fmt.Sprintf("Stochastic leaning overbought (%%K %.1f)", k)
	}
	return comp
}

// compares the fastest and slowest configured EMA
func calculateEMATrendScore(snap indicators.Snapshot, periods []int) SignalComponent {
	comp := SignalComponent{Indicator: IndicatorEMATrend}
	if len(periods) < 2 {
		return comp
	}
	fastP, slowP := periods[0], periods[0]
	for _, p := range periods {
		fastP = min(fastP, p)
		slowP = max(slowP, p)
	}
	fast, okFast := snap.EMA[fastP]
	slow, okSlow := snap.EMA[slowP]
	if !okFast || !okSlow || fast == slow {
		return comp
	}

	if fast > slow {
		comp.Score, comp.Confidence = 0.5, 0.5
		comp.Reason = fmt.Sprintf("EMA%d above EMA%d (uptrend)", fastP, slowP)
		if snap.Close > fast {
			comp.Score, comp.Confidence = 0.8, 0.6
			comp.Reason = fmt.Sprintf("EMA%d above EMA%d with price confirming", fastP, slowP)
		}
		return comp
	}
	comp.Score, comp.Confidence = -0.5, 0.5
	comp.Reason = fmt.Sprintf("EMA%d below EMA%d (downtrend)", fastP, slowP)
	if snap.Close < fast {
		comp.Score, comp.Confidence = -0.8, 0.6
		comp.Reason = fmt.Sprintf("EMA%d below EMA%d with price confirming", fastP, slowP)
	}
	return comp
}

func scoreIndicator(ind Indicator, snap indicators.Snapshot, cfg indicators.Config) SignalComponent {
	switch ind {
	case IndicatorRSI:
		return calculateRSIScore(snap)
	case IndicatorMACD:
		return calculateMACDScore(snap)
	case IndicatorBollinger:
		return calculateBollingerScore(snap)
	case IndicatorStochastic:
		return calculateStochasticScore(snap)
	case IndicatorEMATrend:
		return calculateEMATrendScore(snap, cfg.EMA.Periods)
	}
	return SignalComponent{Indicator: ind}
}

// CombineComponents returns the weighted sum clipped to [-1, 1]
func CombineComponents(components []SignalComponent) float64 {
	sum := 0.0
	for _, c := range components {
		sum += c.Contribution()
	}
	return math.Max(-1, math.Min(1, sum))
}

// ConfidenceFromStrength is min(strength*scale, 1), monotonic in strength
func ConfidenceFromStrength(strength, scale float64) float64 {
	return math.Max(0, math.Min(1, strength*scale))
}

// ========================================================================
// ENGINE
// ========================================================================

type Config struct {
	Indicators           indicators.Config `yaml:"indicators"`
	Weights              Weights           `yaml:"weights"`
	MinCandles           int               `yaml:"min_candles"`
	MinStrength          float64           `yaml:"min_strength"`
	MinConfidence        float64           `yaml:"min_confidence"`
	ConfidenceScale      float64           `yaml:"confidence_scale"`
	TradeDurationMinutes int               `yaml:"trade_duration_minutes"`
}

func DefaultConfig() Config {
	return Config{
		Indicators:           indicators.DefaultConfig(),
		Weights:              DefaultWeights(),
		MinCandles:           50,
		MinStrength:          0.3,
		MinConfidence:        0.45,
		ConfidenceScale:      1.5,
		TradeDurationMinutes: 5,
	}
}

type Outcome int

const (
	OutcomeSignal Outcome = iota
	OutcomeInsufficientData
	OutcomeHold
	OutcomeBelowThreshold
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSignal:
		return "signal"
	case OutcomeInsufficientData:
		return "insufficient_data"
	case OutcomeHold:
		return "hold"
	case OutcomeBelowThreshold:
		return "below_threshold"
	}
	return "unknown"
}

// Result is the explicit outcome of one generation; only OutcomeSignal carries a Signal
type Result struct {
	Outcome    Outcome
	Signal     *types.TradingSignal
	Combined   float64
	Strength   float64
	Confidence float64
	Components []SignalComponent
	Snapshot   indicators.Snapshot
	Reason     string
}

type Engine struct {
	cfg    Config
	filter *SignalQualityFilter
	now    func() time.Time
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg,
		filter: NewSignalQualityFilter(cfg.MinStrength, cfg.MinConfidence),
		now:    time.Now,
	}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// GenerateSignal scores one closed-candle window for an asset
func (e *Engine) GenerateSignal(window []types.Candle, asset string) Result {
	if len(window) < e.cfg.MinCandles {
		return Result{
			Outcome: OutcomeInsufficientData,
			Reason:  fmt.Sprintf("have %d candles, need %d", len(window), e.cfg.MinCandles),
		}
	}

	snap := indicators.Compute(window, e.cfg.Indicators)
	components := make([]SignalComponent, 0, len(evaluationOrder))
	var reasoning []string
	for _, ind := range evaluationOrder {
		comp := scoreIndicator(ind, snap, e.cfg.Indicators)
		comp.Weight = e.cfg.Weights.For(ind)
		components = append(components, comp)
		if comp.Contribution() != 0 {
			reasoning = append(reasoning, comp.Reason)
		}
	}

	combined := CombineComponents(components)
	strength := math.Abs(combined)
	confidence := ConfidenceFromStrength(strength, e.cfg.ConfidenceScale)
	result := Result{
		Combined:   combined,
		Strength:   strength,
		Confidence: confidence,
		Components: components,
		Snapshot:   snap,
	}

	if combined == 0 {
		result.Outcome = OutcomeHold
		result.Reason = "combined score is neutral"
		return result
	}

	signalType := types.SignalCall
	if combined < 0 {
		signalType = types.SignalPut
	}

	signal := &types.TradingSignal{
		Asset:         asset,
		SignalType:    signalType,
		Strength:      strength,
		Confidence:    confidence,
		Price:         snap.Close,
		Timestamp:     e.now().UTC(),
		Indicators:    snap.ToMap(),
		Reasoning:     reasoning,
		ExpiryMinutes: e.cfg.TradeDurationMinutes,
	}

	filtered := e.filter.FilterSignal(signal)
	if !filtered.Passed {
		result.Outcome = OutcomeBelowThreshold
		result.Reason = filtered.FailureReason
		return result
	}

	result.Outcome = OutcomeSignal
	result.Signal = signal
	return result
}

func FormatSignal(signal *types.TradingSignal) string {
	return fmt.Sprintf("%s %s (strength %.2f, %.0f%% confidence) - %v",
		signal.Asset,
		signal.SignalType,
		signal.Strength,
		signal.Confidence*100,
		signal.Reasoning,
	)
}
