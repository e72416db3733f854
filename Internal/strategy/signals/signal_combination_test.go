package signals

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/fazecat/signalpilot/Internal/strategy/indicators"
	"github.com/fazecat/signalpilot/Internal/types"
)

// closes fall by step each bar; open is the previous close
func decliningWindow(n int, start, step float64) []types.Candle {
	base := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	out := make([]types.Candle, n)
	prev := start
	for i := 0; i < n; i++ {
		c := start - float64(i)*step
		out[i] = types.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      prev,
			High:      math.Max(prev, c) + 0.002,
			Low:       math.Min(prev, c) - 0.002,
			Close:     c,
		}
		prev = c
	}
	return out
}

func fixedEngine(cfg Config) *Engine {
	e := NewEngine(cfg)
	e.now = func() time.Time { return time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC) }
	return e
}

func TestGenerateSignal_DecliningEURUSD(t *testing.T) {
	engine := fixedEngine(DefaultConfig())
	result := engine.GenerateSignal(decliningWindow(60, 1.20, 0.01), "EURUSD")

	if result.Outcome != OutcomeSignal {
		t.Fatalf("GenerateSignal() Outcome = %v (%s), want signal", result.Outcome, result.Reason)
	}
	sig := result.Signal
	if sig.SignalType != types.SignalCall {
		t.Errorf("SignalType = %s, want CALL", sig.SignalType)
	}
	if rsi := sig.Indicators["rsi"]; rsi >= 25 {
		t.Errorf("RSI = %.2f, want deeply oversold (< 25)", rsi)
	}
	rsiContribution := DefaultWeights().RSI * 1.0
	if sig.Strength < rsiContribution-1e-9 {
		t.Errorf("Strength = %.3f, want at least the RSI contribution %.3f", sig.Strength, rsiContribution)
	}
	if len(sig.Reasoning) == 0 || !strings.HasPrefix(sig.Reasoning[0], "RSI extremely oversold") {
		t.Errorf("Reasoning = %v, want RSI first", sig.Reasoning)
	}
	if math.Abs(sig.Price-0.61) > 1e-9 {
		t.Errorf("Price = %v, want last close 0.61", sig.Price)
	}
	if sig.ExpiryMinutes != 5 {
		t.Errorf("ExpiryMinutes = %d, want 5", sig.ExpiryMinutes)
	}
	if sig.Asset != "EURUSD" {
		t.Errorf("Asset = %s, want EURUSD", sig.Asset)
	}
}

func TestGenerateSignal_InsufficientData(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	for _, n := range []int{0, 1, 20, 49} {
		result := engine.GenerateSignal(decliningWindow(n, 1.20, 0.001), "EURUSD")
		if result.Outcome != OutcomeInsufficientData {
			t.Errorf("GenerateSignal(%d candles) Outcome = %v, want insufficient_data", n, result.Outcome)
		}
		if result.Signal != nil {
			t.Errorf("GenerateSignal(%d candles) returned a signal", n)
		}
	}
}

func TestGenerateSignal_ZeroWeightsHold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = Weights{}
	result := NewEngine(cfg).GenerateSignal(decliningWindow(60, 1.20, 0.01), "EURUSD")

	if result.Outcome != OutcomeHold {
		t.Errorf("Outcome = %v, want hold", result.Outcome)
	}
	if result.Signal != nil {
		t.Errorf("Signal = %v, want nil", result.Signal)
	}
}

func TestGenerateSignal_StrengthClipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = Weights{RSI: 2, MACD: 2, Bollinger: 2, Stochastic: 2, EMATrend: 2}
	result := NewEngine(cfg).GenerateSignal(decliningWindow(60, 1.20, 0.01), "EURUSD")

	if result.Combined > 1 || result.Combined < -1 {
		t.Fatalf("Combined = %v, want within [-1,1]", result.Combined)
	}
	if result.Strength != 1 {
		t.Errorf("Strength = %v, want clipped to 1", result.Strength)
	}
	if result.Confidence != 1 {
		t.Errorf("Confidence = %v, want 1", result.Confidence)
	}
}

func TestGenerateSignal_BelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinStrength = 0.95
	result := NewEngine(cfg).GenerateSignal(decliningWindow(60, 1.20, 0.01), "EURUSD")

	if result.Outcome != OutcomeBelowThreshold {
		t.Errorf("Outcome = %v, want below_threshold", result.Outcome)
	}
	if result.Signal != nil {
		t.Errorf("Signal should be nil when gated")
	}
	if !strings.Contains(result.Reason, "Strength") {
		t.Errorf("Reason = %q, want strength rejection", result.Reason)
	}
}

func TestGenerateSignal_ReasoningSkipsZeroWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.MACD = 0
	cfg.Weights.EMATrend = 0
	result := fixedEngine(cfg).GenerateSignal(decliningWindow(60, 1.20, 0.01), "EURUSD")
	if result.Signal == nil {
		t.Fatalf("expected a signal, got %v (%s)", result.Outcome, result.Reason)
	}

	wantPrefixes := []string{"RSI", "Price near lower Bollinger", "Stochastic oversold"}
	if len(result.Signal.Reasoning) != len(wantPrefixes) {
		t.Fatalf("Reasoning = %v, want %d entries", result.Signal.Reasoning, len(wantPrefixes))
	}
	for i, prefix := range wantPrefixes {
		if !strings.HasPrefix(result.Signal.Reasoning[i], prefix) {
			t.Errorf("Reasoning[%d] = %q, want prefix %q", i, result.Signal.Reasoning[i], prefix)
		}
	}
}

func TestCalculateRSIScore(t *testing.T) {
	tests := []struct {
		rsi       float64
		wantScore float64
	}{
		{15, 1.0},
		{25, 0.8},
		{35, 0.4},
		{50, 0},
		{65, -0.4},
		{75, -0.8},
		{85, -1.0},
	}
	for _, tt := range tests {
		rsi := tt.rsi
		comp := calculateRSIScore(indicators.Snapshot{RSI: &rsi})
		if comp.Score != tt.wantScore {
			t.Errorf("calculateRSIScore(%v) = %v, want %v", tt.rsi, comp.Score, tt.wantScore)
		}
		if tt.wantScore != 0 && comp.Reason == "" {
			t.Errorf("calculateRSIScore(%v) has no reason", tt.rsi)
		}
	}

	if comp := calculateRSIScore(indicators.Snapshot{}); comp.Score != 0 || comp.Confidence != 0 {
		t.Errorf("missing RSI should score zero, got %+v", comp)
	}
}

func TestCalculateMACDScore(t *testing.T) {
	tests := []struct {
		name string
		macd indicators.MACDValue
		want float64
	}{
		{"bullish above zero", indicators.MACDValue{Line: 0.2, Signal: 0.1, Histogram: 0.1}, 0.8},
		{"bullish below zero", indicators.MACDValue{Line: -0.1, Signal: -0.2, Histogram: 0.1}, 0.5},
		{"bearish below zero", indicators.MACDValue{Line: -0.2, Signal: -0.1, Histogram: -0.1}, -0.8},
		{"bearish above zero", indicators.MACDValue{Line: 0.1, Signal: 0.2, Histogram: -0.1}, -0.5},
		{"flat", indicators.MACDValue{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.macd
			if got := calculateMACDScore(indicators.Snapshot{MACD: &m}).Score; got != tt.want {
				t.Errorf("calculateMACDScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfidenceFromStrength_Monotonic(t *testing.T) {
	prev := -1.0
	for s := 0.0; s <= 1.0; s += 0.05 {
		c := ConfidenceFromStrength(s, 1.5)
		if c < prev {
			t.Fatalf("ConfidenceFromStrength(%.2f) = %v decreased from %v", s, c, prev)
		}
		if c < 0 || c > 1 {
			t.Fatalf("ConfidenceFromStrength(%.2f) = %v out of [0,1]", s, c)
		}
		prev = c
	}
}

func TestCombineComponents_Clips(t *testing.T) {
	comps := []SignalComponent{
		{Score: -1, Weight: 3},
		{Score: -0.5, Weight: 1},
	}
	if got := CombineComponents(comps); got != -1 {
		t.Errorf("CombineComponents() = %v, want -1", got)
	}
}
