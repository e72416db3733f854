package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fazecat/signalpilot/Internal/utils/formatting"
)

const maxRiskEvents = 500

// RejectReason names the risk check that refused a trade
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectDailyLimit      RejectReason = "DAILY_TRADE_LIMIT"
	RejectConcurrentLimit RejectReason = "CONCURRENT_TRADE_LIMIT"
	RejectStakeBounds     RejectReason = "STAKE_OUT_OF_BOUNDS"
	RejectDailyLoss       RejectReason = "DAILY_LOSS_LIMIT"
)

// Limits is immutable once handed to a Manager
type Limits struct {
	MaxDailyTrades      int     `yaml:"max_daily_trades"`
	MaxConcurrentTrades int     `yaml:"max_concurrent_trades"`
	MinStake            float64 `yaml:"min_stake"`
	MaxStake            float64 `yaml:"max_stake"`
	MaxDailyLoss        float64 `yaml:"max_daily_loss"` // 0 disables the check
}

func DefaultLimits() Limits {
	return Limits{
		MaxDailyTrades:      20,
		MaxConcurrentTrades: 3,
		MinStake:            1,
		MaxStake:            100,
		MaxDailyLoss:        0,
	}
}

func (l Limits) Validate() error {
	if l.MaxDailyTrades <= 0 {
		return fmt.Errorf("max_daily_trades must be positive, got %d", l.MaxDailyTrades)
	}
	if l.MaxConcurrentTrades <= 0 {
		return fmt.Errorf("max_concurrent_trades must be positive, got %d", l.MaxConcurrentTrades)
	}
	if l.MinStake < 0 || l.MaxStake < l.MinStake {
		return fmt.Errorf("stake bounds [%.2f, %.2f] are invalid", l.MinStake, l.MaxStake)
	}
	if l.MaxDailyLoss < 0 {
		return fmt.Errorf("max_daily_loss must not be negative")
	}
	return nil
}

// Manager enforces trade count, concurrency, stake and daily loss limits
type Manager struct {
	limits Limits
	logger *logrus.Logger
	now    func() time.Time

	// daily counters, rolled over at UTC midnight
	day              time.Time
	dailyTrades      int
	dailyLoss        float64
	dailyPnL         float64
	lossLimitAlerted bool
	dailyMutex       sync.RWMutex

	riskEvents      []*Event
	riskEventsMutex sync.RWMutex

	alertCallbacks      []AlertCallback
	alertCallbacksMutex sync.RWMutex
}

// represents a significant risk event
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"` // "MAX_CONCURRENT_HIT", "MAX_DAILY_LOSS_HIT", ...
	Severity  string    `json:"severity"`   // "CRITICAL", "WARNING", "INFO"
	Asset     string    `json:"asset,omitempty"`
	Details   string    `json:"details"`
}

// callback function for risk alerts
type AlertCallback func(*Alert)

// alert that can be sent to users/handlers
type Alert struct {
	Level     string
	Title     string
	Message   string
	Timestamp time.Time
	Asset     string
	Data      map[string]interface{}
}

// creates a new risk manager
func NewManager(limits Limits, logger *logrus.Logger) *Manager {
	m := &Manager{
		limits:         limits,
		logger:         logger,
		now:            time.Now,
		riskEvents:     make([]*Event, 0),
		alertCallbacks: make([]AlertCallback, 0),
	}
	m.day = utcDay(m.now())
	return m
}

func (rm *Manager) Limits() Limits {
	return rm.limits
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// rollover resets the daily counters on a new UTC day; callers hold dailyMutex
func (rm *Manager) rollover() {
	today := utcDay(rm.now())
	if today.Equal(rm.day) {
		return
	}
	rm.logger.WithFields(logrus.Fields{
		"previous_day": rm.day.Format("2006-01-02"),
		"trades":       rm.dailyTrades,
		"pnl":          rm.dailyPnL,
	}).Info("Daily risk counters reset")
	rm.day = today
	rm.dailyTrades = 0
	rm.dailyLoss = 0
	rm.dailyPnL = 0
	rm.lossLimitAlerted = false
}

// ============================================================================
// TRADE VALIDATION
// ============================================================================

// Check runs the risk checks in order and stops at the first failure
func (rm *Manager) Check(asset string, stake float64, activeTrades int) ValidationResult {
	result := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
		Details:  map[string]interface{}{},
	}

	rm.dailyMutex.Lock()
	rm.rollover()
	dailyTrades := rm.dailyTrades
	dailyLoss := rm.dailyLoss
	rm.dailyMutex.Unlock()

	result.Details["dailyTrades"] = dailyTrades
	result.Details["activeTrades"] = activeTrades
	result.Details["stake"] = stake
	result.Details["dailyLoss"] = dailyLoss

	reject := func(reason RejectReason, eventType, msg string) ValidationResult {
		result.Valid = false
		result.Reason = reason
		result.Errors = append(result.Errors, msg)
		rm.recordRiskEvent(&Event{
			Timestamp: rm.now(),
			EventType: eventType,
			Severity:  "WARNING",
			Asset:     asset,
			Details:   msg,
		})
		return result
	}

	// Check 1: daily trade count
	if dailyTrades >= rm.limits.MaxDailyTrades {
		return reject(RejectDailyLimit, "MAX_DAILY_TRADES_HIT", fmt.Sprintf(
			"Daily trade limit reached: %d/%d", dailyTrades, rm.limits.MaxDailyTrades))
	}

	// Check 2: concurrently active trades
	if activeTrades >= rm.limits.MaxConcurrentTrades {
		return reject(RejectConcurrentLimit, "MAX_CONCURRENT_HIT", fmt.Sprintf(
			"Concurrent trade limit reached: %d/%d active", activeTrades, rm.limits.MaxConcurrentTrades))
	}

	// Check 3: stake bounds
	if stake < rm.limits.MinStake || stake > rm.limits.MaxStake {
		return reject(RejectStakeBounds, "STAKE_OUT_OF_BOUNDS", fmt.Sprintf(
			"Stake %.2f outside allowed range [%.2f, %.2f]", stake, rm.limits.MinStake, rm.limits.MaxStake))
	}

	// Check 4: realized daily loss
	if rm.limits.MaxDailyLoss > 0 && dailyLoss >= rm.limits.MaxDailyLoss {
		return reject(RejectDailyLoss, "MAX_DAILY_LOSS_HIT", fmt.Sprintf(
			"Daily loss %.2f reached limit %.2f", dailyLoss, rm.limits.MaxDailyLoss))
	}

	if float64(dailyTrades+1) >= float64(rm.limits.MaxDailyTrades)*0.8 {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"Daily trades approaching limit (%d/%d)", dailyTrades+1, rm.limits.MaxDailyTrades))
	}
	return result
}

// Reserve counts an accepted trade against today's limit and returns the day it was booked on
func (rm *Manager) Reserve() time.Time {
	rm.dailyMutex.Lock()
	defer rm.dailyMutex.Unlock()
	rm.rollover()
	rm.dailyTrades++
	return rm.day
}

// Release refunds a reservation made on day, ignored once the day rolled over
func (rm *Manager) Release(day time.Time) {
	rm.dailyMutex.Lock()
	defer rm.dailyMutex.Unlock()
	rm.rollover()
	if day.Equal(rm.day) && rm.dailyTrades > 0 {
		rm.dailyTrades--
	}
}

// ============================================================================
// DAILY P&L TRACKING
// ============================================================================

// Restore seeds today's counters after a restart, typically from the trade journal
func (rm *Manager) Restore(trades int, pnl, grossLoss float64) {
	rm.dailyMutex.Lock()
	defer rm.dailyMutex.Unlock()
	rm.rollover()
	rm.dailyTrades = trades
	rm.dailyPnL = pnl
	rm.dailyLoss = grossLoss
	rm.lossLimitAlerted = rm.limits.MaxDailyLoss > 0 && grossLoss >= rm.limits.MaxDailyLoss
}

// RecordResult books the realized profit of a closed trade
func (rm *Manager) RecordResult(asset string, profit float64) {
	rm.dailyMutex.Lock()
	rm.rollover()
	rm.dailyPnL += profit
	if profit < 0 {
		rm.dailyLoss += -profit
	}
	dailyLoss := rm.dailyLoss
	hit := rm.limits.MaxDailyLoss > 0 && dailyLoss >= rm.limits.MaxDailyLoss && !rm.lossLimitAlerted
	if hit {
		rm.lossLimitAlerted = true
	}
	rm.dailyMutex.Unlock()

	if profit < 0 {
		rm.logger.WithFields(logrus.Fields{
			"asset":      asset,
			"loss":       -profit,
			"daily_loss": dailyLoss,
		}).Info("Trade loss logged")
	}

	if hit {
		rm.recordRiskEvent(&Event{
			Timestamp: rm.now(),
			EventType: "MAX_DAILY_LOSS_HIT",
			Severity:  "CRITICAL",
			Asset:     asset,
			Details:   fmt.Sprintf("Daily loss %.2f hit maximum of %.2f", dailyLoss, rm.limits.MaxDailyLoss),
		})
		rm.SendAlert(&Alert{
			Level:   "CRITICAL",
			Title:   "⛔ DAILY LOSS LIMIT HIT",
			Message: fmt.Sprintf("Daily loss has reached %.2f (limit %.2f). New trades are refused.", dailyLoss, rm.limits.MaxDailyLoss),
			Asset:   asset,
			Data: map[string]interface{}{
				"dailyLoss": dailyLoss,
				"limit":     rm.limits.MaxDailyLoss,
			},
		})
	}
}

type DailyStats struct {
	Day    time.Time `json:"day"`
	Trades int       `json:"trades"`
	Loss   float64   `json:"loss"`
	PnL    float64   `json:"pnl"`
}

func (rm *Manager) DailyStats() DailyStats {
	rm.dailyMutex.Lock()
	defer rm.dailyMutex.Unlock()
	rm.rollover()
	return DailyStats{Day: rm.day, Trades: rm.dailyTrades, Loss: rm.dailyLoss, PnL: rm.dailyPnL}
}

// checks if daily loss limit has been hit
func (rm *Manager) IsDailyLossLimitHit() bool {
	if rm.limits.MaxDailyLoss <= 0 {
		return false
	}
	return rm.DailyStats().Loss >= rm.limits.MaxDailyLoss
}

// ============================================================================
// RISK EVENTS & ALERTS
// ============================================================================

// records a risk event
func (rm *Manager) recordRiskEvent(event *Event) {
	rm.riskEventsMutex.Lock()
	rm.riskEvents = append(rm.riskEvents, event)
	if len(rm.riskEvents) > maxRiskEvents {
		rm.riskEvents = rm.riskEvents[len(rm.riskEvents)-maxRiskEvents:]
	}
	rm.riskEventsMutex.Unlock()

	rm.logger.WithFields(logrus.Fields{
		"severity": event.Severity,
		"type":     event.EventType,
		"asset":    event.Asset,
	}).Warn("🚨 Risk event: " + event.Details)
}

// returns recent risk events, oldest first
func (rm *Manager) GetRiskEvents(limit int) []*Event {
	rm.riskEventsMutex.RLock()
	defer rm.riskEventsMutex.RUnlock()

	events := rm.riskEvents
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]*Event, len(events))
	copy(out, events)
	return out
}

// registers a callback for alerts
func (rm *Manager) RegisterAlertCallback(callback AlertCallback) {
	rm.alertCallbacksMutex.Lock()
	defer rm.alertCallbacksMutex.Unlock()
	rm.alertCallbacks = append(rm.alertCallbacks, callback)
}

// SendAlert sends an alert to all registered callbacks
func (rm *Manager) SendAlert(alert *Alert) {
	alert.Timestamp = rm.now()

	rm.alertCallbacksMutex.RLock()
	callbacks := rm.alertCallbacks
	rm.alertCallbacksMutex.RUnlock()

	for _, callback := range callbacks {
		go callback(alert) // Non-blocking
	}
}

// ============================================================================
// RISK REPORT
// ============================================================================

// GenerateReport summarizes limits usage for the given number of active trades
func (rm *Manager) GenerateReport(activeTrades int) Report {
	daily := rm.DailyStats()

	report := Report{
		Timestamp:           rm.now(),
		DailyTrades:         daily.Trades,
		MaxDailyTrades:      rm.limits.MaxDailyTrades,
		ActiveTrades:        activeTrades,
		MaxConcurrentTrades: rm.limits.MaxConcurrentTrades,
		DailyLoss:           daily.Loss,
		MaxDailyLoss:        rm.limits.MaxDailyLoss,
		DailyPnL:            daily.PnL,
		MinStake:            rm.limits.MinStake,
		MaxStake:            rm.limits.MaxStake,
		HealthStatus:        "HEALTHY",
		Alerts:              []string{},
	}

	switch {
	case rm.limits.MaxDailyLoss > 0 && daily.Loss >= rm.limits.MaxDailyLoss:
		report.HealthStatus = "CRITICAL - DAILY LOSS LIMIT HIT"
		report.Alerts = append(report.Alerts, "🛑 Daily loss limit reached. No new trades.")
	case daily.Trades >= rm.limits.MaxDailyTrades:
		report.HealthStatus = "HALTED - DAILY TRADE LIMIT HIT"
		report.Alerts = append(report.Alerts, "🛑 Daily trade limit reached. No new trades until UTC midnight.")
	case rm.limits.MaxDailyLoss > 0 && daily.Loss >= rm.limits.MaxDailyLoss*0.75:
		report.HealthStatus = "WARNING"
		report.Alerts = append(report.Alerts, fmt.Sprintf("⚠️  Daily loss at %.1f%% of limit", daily.Loss/rm.limits.MaxDailyLoss*100))
	}

	if activeTrades >= rm.limits.MaxConcurrentTrades {
		report.Alerts = append(report.Alerts, fmt.Sprintf("⚠️  Max concurrent trades (%d/%d) reached", activeTrades, rm.limits.MaxConcurrentTrades))
	}
	return report
}

// ============================================================================
// TYPES & STRUCTS
// ============================================================================

// validation result for trade checks
type ValidationResult struct {
	Valid    bool
	Reason   RejectReason
	Errors   []string
	Warnings []string
	Details  map[string]interface{}
}

// Message is the first error, or empty when valid
func (v ValidationResult) Message() string {
	if len(v.Errors) == 0 {
		return ""
	}
	return v.Errors[0]
}

// risk report
type Report struct {
	Timestamp           time.Time `json:"timestamp"`
	DailyTrades         int       `json:"daily_trades"`
	MaxDailyTrades      int       `json:"max_daily_trades"`
	ActiveTrades        int       `json:"active_trades"`
	MaxConcurrentTrades int       `json:"max_concurrent_trades"`
	DailyLoss           float64   `json:"daily_loss"`
	MaxDailyLoss        float64   `json:"max_daily_loss"`
	DailyPnL            float64   `json:"daily_pnl"`
	MinStake            float64   `json:"min_stake"`
	MaxStake            float64   `json:"max_stake"`
	HealthStatus        string    `json:"health_status"`
	Alerts              []string  `json:"alerts"`
}

// prints a formatted risk report
func (r *Report) Print() {
	width := 70
	fmt.Println("\n" + formatting.Separator(width))
	fmt.Println("📊 RISK REPORT")
	fmt.Println(formatting.Separator(width))
	fmt.Printf("Daily Trades:          %d/%d\n", r.DailyTrades, r.MaxDailyTrades)
	fmt.Printf("Active Trades:         %d/%d\n", r.ActiveTrades, r.MaxConcurrentTrades)
	fmt.Printf("Stake Bounds:          %s - %s\n", formatting.Money(r.MinStake), formatting.Money(r.MaxStake))
	if r.MaxDailyLoss > 0 {
		fmt.Printf("Daily Loss:            %s of %s limit\n", formatting.Money(r.DailyLoss), formatting.Money(r.MaxDailyLoss))
	} else {
		fmt.Printf("Daily Loss:            %s (no limit)\n", formatting.Money(r.DailyLoss))
	}
	fmt.Printf("Daily P&L:             %s\n", formatting.Money(r.DailyPnL))
	fmt.Printf("Status:                %s\n", r.HealthStatus)

	if len(r.Alerts) > 0 {
		fmt.Println("\nAlerts:")
		for _, alert := range r.Alerts {
			fmt.Printf("  %s\n", alert)
		}
	}
	fmt.Println(formatting.Separator(width) + "\n")
}
