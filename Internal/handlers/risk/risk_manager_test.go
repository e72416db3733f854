package risk

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestManager(limits Limits) (*Manager, *time.Time) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := NewManager(limits, logger)
	now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	m.day = utcDay(now)
	return m, &now
}

func TestCheck_OrderOfChecks(t *testing.T) {
	limits := Limits{MaxDailyTrades: 2, MaxConcurrentTrades: 1, MinStake: 1, MaxStake: 50, MaxDailyLoss: 20}

	tests := []struct {
		name        string
		dailyTrades int
		dailyLoss   float64
		stake       float64
		active      int
		wantValid   bool
		wantReason  RejectReason
	}{
		{"accepts within limits", 0, 0, 10, 0, true, RejectNone},
		{"daily limit checked before concurrency", 2, 0, 10, 5, false, RejectDailyLimit},
		{"concurrency checked before stake", 1, 0, 500, 1, false, RejectConcurrentLimit},
		{"stake below minimum", 0, 0, 0.5, 0, false, RejectStakeBounds},
		{"stake above maximum", 0, 0, 51, 0, false, RejectStakeBounds},
		{"stake at bounds", 0, 0, 50, 0, true, RejectNone},
		{"daily loss limit", 0, 20, 10, 0, false, RejectDailyLoss},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(limits)
			m.dailyTrades = tt.dailyTrades
			m.dailyLoss = tt.dailyLoss

			got := m.Check("EURUSD", tt.stake, tt.active)
			if got.Valid != tt.wantValid || got.Reason != tt.wantReason {
				t.Errorf("Check() = (%v, %q), want (%v, %q)", got.Valid, got.Reason, tt.wantValid, tt.wantReason)
			}
			if !got.Valid && got.Message() == "" {
				t.Errorf("rejection should carry a message")
			}
		})
	}
}

func TestCheck_DailyLossDisabledWhenZero(t *testing.T) {
	m, _ := newTestManager(Limits{MaxDailyTrades: 5, MaxConcurrentTrades: 5, MinStake: 1, MaxStake: 10})
	m.RecordResult("EURUSD", -1000)
	if got := m.Check("EURUSD", 5, 0); !got.Valid {
		t.Errorf("Check() rejected with %q, want no loss limit when MaxDailyLoss is 0", got.Reason)
	}
}

func TestReserveRelease(t *testing.T) {
	m, now := newTestManager(Limits{MaxDailyTrades: 2, MaxConcurrentTrades: 5, MinStake: 1, MaxStake: 10})

	day := m.Reserve()
	m.Reserve()
	if got := m.Check("EURUSD", 5, 0); got.Reason != RejectDailyLimit {
		t.Fatalf("Check() reason = %q, want daily limit after 2 reservations", got.Reason)
	}

	m.Release(day)
	if got := m.Check("EURUSD", 5, 0); !got.Valid {
		t.Errorf("Check() after Release() = %q, want accepted", got.Reason)
	}

	// a refund from yesterday must not touch today's count
	m.Reserve()
	*now = now.Add(24 * time.Hour)
	m.Reserve()
	m.Release(day)
	if got := m.DailyStats().Trades; got != 1 {
		t.Errorf("DailyStats().Trades = %d, want 1", got)
	}
}

func TestRollover(t *testing.T) {
	m, now := newTestManager(Limits{MaxDailyTrades: 1, MaxConcurrentTrades: 5, MinStake: 1, MaxStake: 10, MaxDailyLoss: 5})
	m.Reserve()
	m.RecordResult("EURUSD", -6)
	if got := m.Check("EURUSD", 5, 0); got.Valid {
		t.Fatalf("Check() should be rejected before midnight")
	}

	*now = time.Date(2024, 5, 7, 0, 0, 1, 0, time.UTC)
	if got := m.Check("EURUSD", 5, 0); !got.Valid {
		t.Errorf("Check() after UTC midnight = %q, want accepted", got.Reason)
	}
	stats := m.DailyStats()
	if stats.Trades != 0 || stats.Loss != 0 || stats.PnL != 0 {
		t.Errorf("DailyStats() = %+v, want zeroed counters", stats)
	}
}

func TestRecordResult_AlertsOnce(t *testing.T) {
	m, _ := newTestManager(Limits{MaxDailyTrades: 10, MaxConcurrentTrades: 5, MinStake: 1, MaxStake: 10, MaxDailyLoss: 10})

	var mu sync.Mutex
	var wg sync.WaitGroup
	alerts := 0
	wg.Add(1)
	m.RegisterAlertCallback(func(a *Alert) {
		mu.Lock()
		alerts++
		mu.Unlock()
		wg.Done()
	})

	m.RecordResult("EURUSD", 8)
	m.RecordResult("EURUSD", -6)
	m.RecordResult("EURUSD", -6)
	m.RecordResult("EURUSD", -6)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if alerts != 1 {
		t.Errorf("alerts = %d, want 1", alerts)
	}
	stats := m.DailyStats()
	if stats.Loss != 18 || stats.PnL != -10 {
		t.Errorf("DailyStats() = %+v, want loss 18 and pnl -10", stats)
	}
	if !m.IsDailyLossLimitHit() {
		t.Errorf("IsDailyLossLimitHit() = false, want true")
	}
	critical := 0
	for _, e := range m.GetRiskEvents(0) {
		if e.Severity == "CRITICAL" {
			critical++
		}
	}
	if critical != 1 {
		t.Errorf("critical events = %d, want 1", critical)
	}
}

func TestGetRiskEvents_Limit(t *testing.T) {
	m, _ := newTestManager(Limits{MaxDailyTrades: 1, MaxConcurrentTrades: 1, MinStake: 1, MaxStake: 10})
	for i := 0; i < 5; i++ {
		m.Check("EURUSD", 5, 3)
	}
	if got := len(m.GetRiskEvents(2)); got != 2 {
		t.Errorf("GetRiskEvents(2) returned %d events, want 2", got)
	}
	if got := len(m.GetRiskEvents(0)); got != 5 {
		t.Errorf("GetRiskEvents(0) returned %d events, want 5", got)
	}
}

func TestGenerateReport(t *testing.T) {
	m, _ := newTestManager(Limits{MaxDailyTrades: 2, MaxConcurrentTrades: 2, MinStake: 1, MaxStake: 10, MaxDailyLoss: 10})
	m.Reserve()
	m.RecordResult("EURUSD", -8)

	report := m.GenerateReport(2)
	if report.HealthStatus != "WARNING" {
		t.Errorf("HealthStatus = %q, want WARNING at 80%% of loss limit", report.HealthStatus)
	}
	if report.DailyTrades != 1 || report.ActiveTrades != 2 || len(report.Alerts) != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestLimitsValidate(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		wantErr bool
	}{
		{"defaults", DefaultLimits(), false},
		{"zero daily", Limits{MaxDailyTrades: 0, MaxConcurrentTrades: 1, MaxStake: 1}, true},
		{"inverted stakes", Limits{MaxDailyTrades: 1, MaxConcurrentTrades: 1, MinStake: 10, MaxStake: 1}, true},
		{"negative loss", Limits{MaxDailyTrades: 1, MaxConcurrentTrades: 1, MaxStake: 1, MaxDailyLoss: -1}, true},
	}
	for _, tt := range tests {
		if err := tt.limits.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestRestore(t *testing.T) {
	m, _ := newTestManager(Limits{MaxDailyTrades: 3, MaxConcurrentTrades: 5, MinStake: 1, MaxStake: 10, MaxDailyLoss: 20})
	m.Restore(3, -5, 25)

	stats := m.DailyStats()
	if stats.Trades != 3 || stats.PnL != -5 || stats.Loss != 25 {
		t.Errorf("DailyStats() = %+v after Restore", stats)
	}
	if res := m.Check("EURUSD", 5, 0); res.Valid || res.Reason != RejectDailyLimit {
		t.Errorf("Check() after Restore = %+v, want daily limit rejection", res)
	}
	if !m.IsDailyLossLimitHit() {
		t.Errorf("IsDailyLossLimitHit() = false after restoring a loss over the limit")
	}
}
