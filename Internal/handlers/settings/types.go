package settings

// SettingsPayload sections are optional; absent sections are left unchanged
type SettingsPayload struct {
	Trading  *TradeSettings    `json:"trading,omitempty"`
	Risk     *RiskSettings     `json:"risk,omitempty"`
	Signals  *SignalSettings   `json:"signals,omitempty"`
	Pipeline *PipelineSettings `json:"pipeline,omitempty"`
}

type TradeSettings struct {
	StakeAmount          float64 `json:"stakeAmount"`
	TradeDurationMinutes int     `json:"tradeDurationMinutes"`
}

type RiskSettings struct {
	MaxDailyTrades      int      `json:"maxDailyTrades"`
	MaxConcurrentTrades int      `json:"maxConcurrentTrades"`
	MinStake            float64  `json:"minStake"`
	MaxStake            float64  `json:"maxStake"`
	MaxDailyLoss        *float64 `json:"maxDailyLoss,omitempty"` // 0 disables, absent keeps
}

type SignalSettings struct {
	MinStrength   float64 `json:"minStrength"`
	MinConfidence float64 `json:"minConfidence"`
}

type PipelineSettings struct {
	Assets                []string `json:"assets"`
	SignalIntervalSeconds int      `json:"signalIntervalSeconds"`
	MaxConcurrentSignals  int      `json:"maxConcurrentSignals"`
}

type SettingsResponse struct {
	Trading  TradeSettings     `json:"trading"`
	Risk     RiskSettings      `json:"risk"`
	Signals  SignalSettings    `json:"signals"`
	Pipeline PipelineSettings  `json:"pipeline"`
	API      map[string]string `json:"api"`
	Message  string            `json:"message,omitempty"`
}
