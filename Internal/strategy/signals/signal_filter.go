package signals

import (
	"fmt"

	"github.com/fazecat/signalpilot/Internal/types"
)

// Gate signals on minimum strength and confidence before they reach the trader
type SignalQualityFilter struct {
	MinStrength      float64
	MinConfidence    float64
	RequireReasoning bool
}

type FilteredSignal struct {
	Original          *types.TradingSignal
	Passed            bool
	FailureReason     string
	QualityScore      float64
	RecommendedAction string
}

func NewSignalQualityFilter(minStrength, minConfidence float64) *SignalQualityFilter {
	return &SignalQualityFilter{
		MinStrength:      minStrength,
		MinConfidence:    minConfidence,
		RequireReasoning: true,
	}
}

func (f *SignalQualityFilter) FilterSignal(signal *types.TradingSignal) *FilteredSignal {
	result := &FilteredSignal{
		Original:          signal,
		RecommendedAction: "HOLD",
	}
	if signal == nil {
		result.FailureReason = "No signal provided"
		return result
	}
	result.QualityScore = signal.Strength * signal.Confidence

	if signal.SignalType != types.SignalCall && signal.SignalType != types.SignalPut {
		result.FailureReason = fmt.Sprintf("Invalid direction: %s (must be CALL or PUT)", signal.SignalType)
		return result
	}

	if signal.Strength < f.MinStrength {
		result.FailureReason = fmt.Sprintf("Strength %.2f below minimum threshold %.2f",
			signal.Strength, f.MinStrength)
		return result
	}

	if signal.Confidence < f.MinConfidence {
		result.FailureReason = fmt.Sprintf("Confidence %.2f below minimum threshold %.2f",
			signal.Confidence, f.MinConfidence)
		return result
	}

	if f.RequireReasoning && len(signal.Reasoning) == 0 {
		result.FailureReason = "Signal has no reasoning attached"
		return result
	}

	result.Passed = true
	result.RecommendedAction = fmt.Sprintf("EXECUTE %s", signal.SignalType)
	return result
}
