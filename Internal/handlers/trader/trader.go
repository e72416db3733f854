package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fazecat/signalpilot/Internal/handlers/monitoring"
	"github.com/fazecat/signalpilot/Internal/handlers/risk"
	"github.com/fazecat/signalpilot/Internal/platform"
	"github.com/fazecat/signalpilot/Internal/types"
)

var (
	ErrTradeNotFound  = errors.New("trade not found")
	ErrNotCancellable = errors.New("trade can no longer be cancelled")

	// the platform holds a real position for the trade until it settles
	ErrPositionOpen = fmt.Errorf("%w: the platform keeps the position open until expiry", ErrNotCancellable)
)

const (
	ReasonStopped       = "TRADING_STOPPED"
	ReasonInvalidSignal = "INVALID_SIGNAL"
)

// TradeRecorder persists trade transitions
type TradeRecorder interface {
	SaveTrade(ctx context.Context, trade *types.AutoTrade) error
}

// TradeHook observes a trade after a transition; it receives a copy
type TradeHook func(trade *types.AutoTrade)

type Config struct {
	StakeAmount         float64       `yaml:"stake_amount"`
	TradeDuration       time.Duration `yaml:"trade_duration"`
	ExecuteTimeout      time.Duration `yaml:"execute_timeout"`
	SettleTimeout       time.Duration `yaml:"settle_timeout"`
	ExpiryCheckInterval time.Duration `yaml:"expiry_check_interval"`
	MaxClosedHistory    int           `yaml:"max_closed_history"`
}

func DefaultConfig() Config {
	return Config{
		StakeAmount:         10,
		TradeDuration:       5 * time.Minute,
		ExecuteTimeout:      15 * time.Second,
		SettleTimeout:       15 * time.Second,
		ExpiryCheckInterval: 5 * time.Second,
		MaxClosedHistory:    500,
	}
}

// SubmitResult is exactly one of: accepted, rejected, failed
type SubmitResult struct {
	Trade    *types.AutoTrade
	Rejected bool
	Reason   string
	Message  string
	Err      error
}

func (r SubmitResult) Accepted() bool {
	return !r.Rejected && r.Err == nil && r.Trade != nil && r.Trade.Status == types.TradeExecuted
}

type tradeEntry struct {
	trade       *types.AutoTrade
	reservedDay time.Time
	settling    bool
}

// Trader owns every AutoTrade from acceptance until it is closed, failed or cancelled
type Trader struct {
	cfg      Config
	platform platform.TradingPlatform
	risk     *risk.Manager
	monitor  *monitoring.Monitor
	recorder TradeRecorder
	logger   *logrus.Logger
	now      func() time.Time
	newID    func() string

	mu          sync.Mutex
	running     bool
	active      map[string]*tradeEntry
	closed      []*types.AutoTrade
	realizedPnL float64

	hooksMutex    sync.RWMutex
	executedHooks []TradeHook
	failedHooks   []TradeHook
	closedHooks   []TradeHook
}

// New wires a trader; monitor and recorder may be nil
func New(cfg Config, tp platform.TradingPlatform, rm *risk.Manager, monitor *monitoring.Monitor, recorder TradeRecorder, logger *logrus.Logger) *Trader {
	def := DefaultConfig()
	if cfg.TradeDuration <= 0 {
		cfg.TradeDuration = def.TradeDuration
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = def.ExecuteTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = def.SettleTimeout
	}
	if cfg.ExpiryCheckInterval <= 0 {
		cfg.ExpiryCheckInterval = def.ExpiryCheckInterval
	}
	if cfg.MaxClosedHistory <= 0 {
		cfg.MaxClosedHistory = def.MaxClosedHistory
	}
	return &Trader{
		cfg:      cfg,
		platform: tp,
		risk:     rm,
		monitor:  monitor,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		active:   make(map[string]*tradeEntry),
	}
}

func (t *Trader) Config() Config {
	return t.cfg
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func (t *Trader) StartAutomatedTrading() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.logger.Info("🟢 Automated trading started")
}

// StopAutomatedTrading refuses new signals; open trades still settle
func (t *Trader) StopAutomatedTrading() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.logger.Info("🔴 Automated trading stopped")
}

func (t *Trader) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Trader) OnTradeExecuted(hook TradeHook) {
	t.hooksMutex.Lock()
	defer t.hooksMutex.Unlock()
	t.executedHooks = append(t.executedHooks, hook)
}

// OnTradeFailed runs after a platform execution error; the trade carries the error text
func (t *Trader) OnTradeFailed(hook TradeHook) {
	t.hooksMutex.Lock()
	defer t.hooksMutex.Unlock()
	t.failedHooks = append(t.failedHooks, hook)
}

func (t *Trader) OnTradeClosed(hook TradeHook) {
	t.hooksMutex.Lock()
	defer t.hooksMutex.Unlock()
	t.closedHooks = append(t.closedHooks, hook)
}

func (t *Trader) fire(hooks *[]TradeHook, trade *types.AutoTrade) {
	t.hooksMutex.RLock()
	list := *hooks
	t.hooksMutex.RUnlock()
	for _, hook := range list {
		hook(trade.Clone())
	}
}

// ============================================================================
// SUBMISSION
// ============================================================================

func rejected(reason, message string) SubmitResult {
	return SubmitResult{Rejected: true, Reason: reason, Message: message}
}

// Submit runs the risk gate and executes the trade on the platform
func (t *Trader) Submit(ctx context.Context, sig *types.TradingSignal) SubmitResult {
	if sig == nil || (sig.SignalType != types.SignalCall && sig.SignalType != types.SignalPut) {
		return rejected(ReasonInvalidSignal, "only CALL or PUT signals can be traded")
	}

	// risk check, PENDING creation and reservation are one critical section
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return rejected(ReasonStopped, "automated trading is stopped")
	}
	check := t.risk.Check(sig.Asset, t.cfg.StakeAmount, len(t.active))
	if !check.Valid {
		t.mu.Unlock()
		t.logger.WithFields(logrus.Fields{
			"asset":  sig.Asset,
			"reason": check.Reason,
		}).Info("Signal rejected by risk gate")
		return rejected(string(check.Reason), check.Message())
	}

	trade := &types.AutoTrade{
		ID:             t.newID(),
		Asset:          sig.Asset,
		Direction:      sig.SignalType,
		Amount:         t.cfg.StakeAmount,
		SignalStrength: sig.Strength,
		Status:         types.TradePending,
		CreatedAt:      t.now().UTC(),
	}
	entry := &tradeEntry{trade: trade, reservedDay: t.risk.Reserve()}
	t.active[trade.ID] = entry
	pending := trade.Clone()
	t.mu.Unlock()

	t.record(ctx, pending)

	execCtx, cancel := context.WithTimeout(ctx, t.cfg.ExecuteTimeout)
	exec, err := t.platform.ExecuteTrade(execCtx, platform.ExecutionRequest{
		Asset:     sig.Asset,
		Direction: sig.SignalType,
		Stake:     t.cfg.StakeAmount,
		Expiry:    t.cfg.TradeDuration,

		ReferencePrice: sig.Price,
	})
	cancel()

	t.mu.Lock()
	if trade.Status == types.TradeCancelled {
		snapshot := trade.Clone()
		t.mu.Unlock()
		t.logger.WithFields(logrus.Fields{
			"trade_id": trade.ID,
			"asset":    trade.Asset,
			"error":    err,
		}).Warn("Ignoring execution result for a cancelled trade")
		return SubmitResult{Trade: snapshot, Reason: string(types.TradeCancelled), Message: "trade was cancelled during execution"}
	}

	if err != nil {
		trade.Status = types.TradeFailed
		trade.Error = err.Error()
		trade.ClosedAt = t.now().UTC()
		delete(t.active, trade.ID)
		t.archive(trade)
		t.risk.Release(entry.reservedDay)
		failed := trade.Clone()
		t.mu.Unlock()

		t.logger.WithFields(logrus.Fields{
			"trade_id": failed.ID,
			"asset":    failed.Asset,
			"error":    err,
		}).Error("Trade execution failed")
		t.record(ctx, failed)
		t.fire(&t.failedHooks, failed)
		return SubmitResult{Trade: failed, Err: fmt.Errorf("execute %s %s: %w", failed.Asset, failed.Direction, err)}
	}

	trade.Status = types.TradeExecuted
	trade.PlatformTradeID = exec.PlatformTradeID
	trade.EntryPrice = exec.ConfirmedPrice
	trade.EntryTime = exec.ConfirmedAt.UTC()
	if exec.ConfirmedAt.IsZero() {
		trade.EntryTime = t.now().UTC()
	}
	trade.ExpiryTime = trade.EntryTime.Add(t.cfg.TradeDuration)
	executed := trade.Clone()
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"trade_id":    executed.ID,
		"asset":       executed.Asset,
		"direction":   executed.Direction,
		"stake":       executed.Amount,
		"entry_price": executed.EntryPrice,
		"expiry":      executed.ExpiryTime.Format(time.RFC3339),
	}).Info("✅ Trade executed")
	t.record(ctx, executed)
	t.fire(&t.executedHooks, executed)
	return SubmitResult{Trade: executed}
}

// keepsPositions reports whether cancelling would orphan a venue position
func (t *Trader) keepsPositions() bool {
	keeper, ok := t.platform.(platform.PositionKeeper)
	return ok && keeper.KeepsPositions()
}

// Cancel stops tracking a PENDING or EXECUTED trade. Platforms that hold real
// positions refuse it, since the order or position would be left unmanaged.
func (t *Trader) Cancel(ctx context.Context, id string) (*types.AutoTrade, error) {
	if t.keepsPositions() {
		if _, err := t.GetTrade(id); err != nil {
			return nil, err
		}
		return nil, ErrPositionOpen
	}

	t.mu.Lock()
	entry, ok := t.active[id]
	if !ok {
		t.mu.Unlock()
		if _, err := t.GetTrade(id); err == nil {
			return nil, ErrNotCancellable
		}
		return nil, ErrTradeNotFound
	}
	if entry.settling {
		t.mu.Unlock()
		return nil, ErrNotCancellable
	}
	wasPending := entry.trade.Status == types.TradePending
	entry.trade.Status = types.TradeCancelled
	entry.trade.ClosedAt = t.now().UTC()
	delete(t.active, id)
	t.archive(entry.trade)
	// nothing was executed yet, so the daily slot goes back
	if wasPending {
		t.risk.Release(entry.reservedDay)
	}
	cancelled := entry.trade.Clone()
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"trade_id": id,
		"asset":    cancelled.Asset,
	}).Warn("Trade cancelled")
	t.record(ctx, cancelled)
	return cancelled, nil
}

// ============================================================================
// EXPIRY & SETTLEMENT
// ============================================================================

type dueTrade struct {
	id         string
	platformID string
}

// CheckExpiries settles EXECUTED trades whose expiry passed and returns how many closed
func (t *Trader) CheckExpiries(ctx context.Context) int {
	t.mu.Lock()
	now := t.now()
	var due []dueTrade
	for id, entry := range t.active {
		if entry.trade.Status != types.TradeExecuted || entry.settling {
			continue
		}
		if now.Before(entry.trade.ExpiryTime) {
			continue
		}
		entry.settling = true
		due = append(due, dueTrade{id: id, platformID: entry.trade.PlatformTradeID})
	}
	t.mu.Unlock()

	closed := 0
	for _, d := range due {
		if t.settle(ctx, d) {
			closed++
		}
	}
	return closed
}

func (t *Trader) settle(ctx context.Context, d dueTrade) bool {
	settleCtx, cancel := context.WithTimeout(ctx, t.cfg.SettleTimeout)
	s, err := t.platform.GetOutcome(settleCtx, d.platformID)
	cancel()

	t.mu.Lock()
	entry, ok := t.active[d.id]
	if !ok || entry.trade.Status != types.TradeExecuted {
		t.mu.Unlock()
		return false
	}
	entry.settling = false
	if err != nil || s == nil || !s.Settled {
		t.mu.Unlock()
		if err != nil {
			t.logger.WithFields(logrus.Fields{
				"trade_id": d.id,
				"error":    err,
			}).Warn("Settlement query failed, will retry on next check")
		}
		return false
	}

	trade := entry.trade
	trade.Status = types.TradeClosed
	trade.ExitPrice = s.ExitPrice
	trade.Profit = s.Profit
	trade.Outcome = s.Outcome
	trade.ClosedAt = t.now().UTC()
	delete(t.active, d.id)
	t.archive(trade)
	t.realizedPnL += s.Profit
	closedTrade := trade.Clone()
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"trade_id": closedTrade.ID,
		"asset":    closedTrade.Asset,
		"outcome":  closedTrade.Outcome,
		"profit":   closedTrade.Profit,
	}).Info("Trade closed")

	t.risk.RecordResult(closedTrade.Asset, closedTrade.Profit)
	if t.monitor != nil {
		t.monitor.RecordTrade(closedTrade)
	}
	t.record(ctx, closedTrade)
	t.fire(&t.closedHooks, closedTrade)
	return true
}

// RunExpiryLoop checks expiries every ExpiryCheckInterval until ctx is done
func (t *Trader) RunExpiryLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.ExpiryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckExpiries(ctx)
		}
	}
}

// archive keeps a bounded list of finished trades; callers hold mu
func (t *Trader) archive(trade *types.AutoTrade) {
	t.closed = append(t.closed, trade)
	if len(t.closed) > t.cfg.MaxClosedHistory {
		t.closed = t.closed[len(t.closed)-t.cfg.MaxClosedHistory:]
	}
}

func (t *Trader) record(ctx context.Context, trade *types.AutoTrade) {
	if t.recorder == nil {
		return
	}
	if err := t.recorder.SaveTrade(context.WithoutCancel(ctx), trade); err != nil {
		t.logger.WithFields(logrus.Fields{
			"trade_id": trade.ID,
			"error":    err,
		}).Error("Failed to journal trade")
	}
}

// ============================================================================
// READERS
// ============================================================================

// ActiveTrades returns copies of PENDING and EXECUTED trades, oldest first
func (t *Trader) ActiveTrades() []*types.AutoTrade {
	t.mu.Lock()
	out := make([]*types.AutoTrade, 0, len(t.active))
	for _, entry := range t.active {
		out = append(out, entry.trade.Clone())
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (t *Trader) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// ClosedTrades returns the newest finished trades, oldest first
func (t *Trader) ClosedTrades(limit int) []*types.AutoTrade {
	t.mu.Lock()
	defer t.mu.Unlock()

	trades := t.closed
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	out := make([]*types.AutoTrade, len(trades))
	for i, trade := range trades {
		out[i] = trade.Clone()
	}
	return out
}

func (t *Trader) GetTrade(id string) (*types.AutoTrade, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.active[id]; ok {
		return entry.trade.Clone(), nil
	}
	for i := len(t.closed) - 1; i >= 0; i-- {
		if t.closed[i].ID == id {
			return t.closed[i].Clone(), nil
		}
	}
	return nil, ErrTradeNotFound
}

func (t *Trader) RealizedPnL() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.realizedPnL
}
