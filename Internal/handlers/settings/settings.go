package settings

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fazecat/signalpilot/Internal/utils/config"
)

// Handler reads and updates the live configuration snapshot
type Handler struct {
	Store *config.Store
}

// NewHandler creates a new settings handler
func NewHandler(store *config.Store) *Handler {
	return &Handler{Store: store}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error JSON response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func responseFor(cfg *config.Config) SettingsResponse {
	maxDailyLoss := cfg.Risk.MaxDailyLoss
	return SettingsResponse{
		Trading: TradeSettings{
			StakeAmount:          cfg.Trading.StakeAmount,
			TradeDurationMinutes: cfg.Signals.TradeDurationMinutes,
		},
		Risk: RiskSettings{
			MaxDailyTrades:      cfg.Risk.MaxDailyTrades,
			MaxConcurrentTrades: cfg.Risk.MaxConcurrentTrades,
			MinStake:            cfg.Risk.MinStake,
			MaxStake:            cfg.Risk.MaxStake,
			MaxDailyLoss:        &maxDailyLoss,
		},
		Signals: SignalSettings{
			MinStrength:   cfg.Signals.MinStrength,
			MinConfidence: cfg.Signals.MinConfidence,
		},
		Pipeline: PipelineSettings{
			Assets:                cfg.Pipeline.Assets,
			SignalIntervalSeconds: int(cfg.Pipeline.SignalInterval / time.Second),
			MaxConcurrentSignals:  cfg.Pipeline.MaxConcurrentSignals,
		},
		API: map[string]string{
			"alpacaKeyMasked":    config.MaskSecret(cfg.Alpaca.APIKey),
			"alpacaSecretMasked": config.MaskSecret(cfg.Alpaca.APISecret),
		},
	}
}

// HandleGetSettings returns all settings
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, responseFor(h.Store.Get()))
}

// HandleUpdateSettings validates the edited copy before swapping it in
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload SettingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg := h.Store.Get().Clone()
	apply(cfg, &payload)

	if err := h.Store.Swap(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.Store.Path() != "" {
		if err := config.SaveConfig(cfg, h.Store.Path()); err != nil {
			writeError(w, http.StatusInternalServerError, "Settings applied but could not be saved")
			return
		}
	}

	response := responseFor(cfg)
	response.Message = "Settings updated, component changes apply after restart"
	writeJSON(w, http.StatusOK, response)
}

// zero values in a section mean "keep the current value"
func apply(cfg *config.Config, p *SettingsPayload) {
	if t := p.Trading; t != nil {
		if t.StakeAmount > 0 {
			cfg.Trading.StakeAmount = t.StakeAmount
		}
		if t.TradeDurationMinutes > 0 {
			cfg.Signals.TradeDurationMinutes = t.TradeDurationMinutes
			cfg.Trading.TradeDuration = time.Duration(t.TradeDurationMinutes) * time.Minute
		}
	}
	if rs := p.Risk; rs != nil {
		if rs.MaxDailyTrades > 0 {
			cfg.Risk.MaxDailyTrades = rs.MaxDailyTrades
		}
		if rs.MaxConcurrentTrades > 0 {
			cfg.Risk.MaxConcurrentTrades = rs.MaxConcurrentTrades
		}
		if rs.MinStake > 0 {
			cfg.Risk.MinStake = rs.MinStake
		}
		if rs.MaxStake > 0 {
			cfg.Risk.MaxStake = rs.MaxStake
		}
		if rs.MaxDailyLoss != nil {
			cfg.Risk.MaxDailyLoss = *rs.MaxDailyLoss
		}
	}
	if s := p.Signals; s != nil {
		if s.MinStrength > 0 {
			cfg.Signals.MinStrength = s.MinStrength
		}
		if s.MinConfidence > 0 {
			cfg.Signals.MinConfidence = s.MinConfidence
		}
	}
	if pl := p.Pipeline; pl != nil {
		if len(pl.Assets) > 0 {
			cfg.Pipeline.Assets = append([]string(nil), pl.Assets...)
		}
		if pl.SignalIntervalSeconds > 0 {
			cfg.Pipeline.SignalInterval = time.Duration(pl.SignalIntervalSeconds) * time.Second
		}
		if pl.MaxConcurrentSignals > 0 {
			cfg.Pipeline.MaxConcurrentSignals = pl.MaxConcurrentSignals
		}
	}
}
