package settings

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fazecat/signalpilot/Internal/utils/config"
)

func TestHandleGetSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Alpaca.APIKey = "PKTESTKEY1234"
	h := NewHandler(config.NewStore(cfg, ""))

	rec := httptest.NewRecorder()
	h.HandleGetSettings(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp SettingsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if resp.Trading.StakeAmount != 10 || resp.Risk.MaxConcurrentTrades != 3 || resp.Pipeline.SignalIntervalSeconds != 30 {
		t.Errorf("response = %+v", resp)
	}
	if strings.Contains(rec.Body.String(), "PKTESTKEY1234") {
		t.Errorf("response leaks the API key")
	}
}

func TestHandleUpdateSettings(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantStake  float64
	}{
		{"valid stake", `{"trading":{"stakeAmount":25}}`, http.StatusOK, 25},
		{"stake above risk bound", `{"trading":{"stakeAmount":250}}`, http.StatusBadRequest, 10},
		{"malformed body", `{"trading":`, http.StatusBadRequest, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := config.NewStore(config.Default(), "")
			h := NewHandler(store)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(tt.body))
			h.HandleUpdateSettings(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := store.Get().Trading.StakeAmount; got != tt.wantStake {
				t.Errorf("StakeAmount = %v, want %v", got, tt.wantStake)
			}
		})
	}
}

func TestApply_DurationKeepsSectionsInSync(t *testing.T) {
	cfg := config.Default()
	apply(cfg, &SettingsPayload{
		Trading:  &TradeSettings{TradeDurationMinutes: 3},
		Pipeline: &PipelineSettings{Assets: []string{"BTC/USD"}},
	})
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after apply = %v", err)
	}
	if cfg.Pipeline.Assets[0] != "BTC/USD" {
		t.Errorf("Assets = %v", cfg.Pipeline.Assets)
	}
}
