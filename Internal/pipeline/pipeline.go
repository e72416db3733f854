package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fazecat/signalpilot/Internal/events"
	"github.com/fazecat/signalpilot/Internal/handlers/trader"
	"github.com/fazecat/signalpilot/Internal/platform"
	"github.com/fazecat/signalpilot/Internal/strategy/signals"
	"github.com/fazecat/signalpilot/Internal/types"
)

var (
	ErrAlreadyRunning = errors.New("pipeline is already running")
	ErrNotRunning     = errors.New("pipeline is not running")
)

type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

type Config struct {
	Assets               []string      `yaml:"assets"`
	TimeframeMinutes     int           `yaml:"timeframe_minutes"`
	CandleCount          int           `yaml:"candle_count"`
	WindowCapacity       int           `yaml:"window_capacity"`
	SignalInterval       time.Duration `yaml:"signal_interval"`
	MaxConcurrentSignals int           `yaml:"max_concurrent_signals"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
	ReconnectTimeout     time.Duration `yaml:"reconnect_timeout"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`
	ReconnectWindow      time.Duration `yaml:"reconnect_window"`
}

func DefaultConfig() Config {
	return Config{
		Assets:               []string{"EURUSD", "GBPUSD", "USDJPY"},
		TimeframeMinutes:     1,
		CandleCount:          100,
		WindowCapacity:       200,
		SignalInterval:       30 * time.Second,
		MaxConcurrentSignals: 3,
		FetchTimeout:         10 * time.Second,
		ReconnectTimeout:     15 * time.Second,
		ReconnectMaxAttempts: DefaultReconnectMaxAttempts,
		ReconnectWindow:      DefaultReconnectWindow,
	}
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Assets) == 0 {
		errs = append(errs, errors.New("at least one asset is required"))
	}
	if c.TimeframeMinutes <= 0 {
		errs = append(errs, errors.New("timeframe_minutes must be positive"))
	}
	if c.CandleCount <= 0 {
		errs = append(errs, errors.New("candle_count must be positive"))
	}
	if c.WindowCapacity < c.CandleCount {
		errs = append(errs, fmt.Errorf("window_capacity (%d) must hold candle_count (%d)", c.WindowCapacity, c.CandleCount))
	}
	if c.SignalInterval <= 0 {
		errs = append(errs, errors.New("signal_interval must be positive"))
	}
	if c.MaxConcurrentSignals <= 0 {
		errs = append(errs, errors.New("max_concurrent_signals must be positive"))
	}
	return errors.Join(errs...)
}

// SignalGenerator turns a closed-candle window into a signal result
type SignalGenerator interface {
	GenerateSignal(window []types.Candle, asset string) signals.Result
}

// TradeSubmitter receives qualifying signals
type TradeSubmitter interface {
	Submit(ctx context.Context, sig *types.TradingSignal) trader.SubmitResult
}

// Recorder persists raw market data
type Recorder interface {
	WriteTick(asset string, ts time.Time, price float64) error
	WriteCandle(asset string, timeframeMinutes int, c types.Candle) error
}

type Status struct {
	State     State           `json:"state"`
	StartTime time.Time       `json:"start_time,omitempty"`
	Uptime    time.Duration   `json:"uptime"`
	Assets    []string        `json:"assets"`
	Metrics   MetricsSnapshot `json:"metrics"`
	Connected bool            `json:"connected"`
}

type Pipeline struct {
	cfg       Config
	data      platform.MarketData
	generator SignalGenerator
	submitter TradeSubmitter
	recorder  Recorder
	bus       *events.Bus
	reconnect *ReconnectPolicy
	metrics   Metrics
	logger    *logrus.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     State
	startTime time.Time
	cancel    context.CancelFunc
	loops     sync.WaitGroup

	windowsMu sync.Mutex
	windows   map[string]*types.CandleWindow
}

// New wires a pipeline; submitter and recorder may be nil
func New(cfg Config, data platform.MarketData, generator SignalGenerator, submitter TradeSubmitter, recorder Recorder, bus *events.Bus, logger *logrus.Logger) *Pipeline {
	if cfg.MaxConcurrentSignals <= 0 {
		cfg.MaxConcurrentSignals = 1
	}
	if cfg.WindowCapacity < cfg.CandleCount {
		cfg.WindowCapacity = cfg.CandleCount
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.ReconnectTimeout <= 0 {
		cfg.ReconnectTimeout = 15 * time.Second
	}
	return &Pipeline{
		cfg:       cfg,
		data:      data,
		generator: generator,
		submitter: submitter,
		recorder:  recorder,
		bus:       bus,
		reconnect: NewReconnectPolicy(cfg.ReconnectMaxAttempts, cfg.ReconnectWindow),
		logger:    logger,
		now:       time.Now,
		state:     StateStopped,
		windows:   make(map[string]*types.CandleWindow),
	}
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start runs one cycle right away and then one every SignalInterval
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateRunning {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = StateRunning
	p.startTime = p.now().UTC()
	p.metrics.reset()
	p.loops.Add(1)
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"assets":   p.cfg.Assets,
		"interval": p.cfg.SignalInterval,
	}).Info("🚀 Signal pipeline started")
	p.bus.Emit(events.PipelineStarted, "", "signal pipeline started", map[string]interface{}{
		"assets":   p.cfg.Assets,
		"interval": p.cfg.SignalInterval.String(),
	})

	go p.loop(runCtx)
	return nil
}

// Stop cancels future cycles; a cycle already in flight runs to completion
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.state = StateStopped
	p.cancel()
	p.cancel = nil
	p.mu.Unlock()

	p.logger.Info("🛑 Signal pipeline stopped")
	p.bus.Emit(events.PipelineStopped, "", "signal pipeline stopped", nil)
	return nil
}

// Wait blocks until every scheduling loop and its in-flight cycle have returned
func (p *Pipeline) Wait() {
	p.loops.Wait()
}

func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateRunning
}

func (p *Pipeline) loop(ctx context.Context) {
	defer p.loops.Done()

	// cycles outlive Stop so submissions are never abandoned mid-flight
	work := context.WithoutCancel(ctx)

	p.RunCycle(work)
	ticker := time.NewTicker(p.cfg.SignalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			p.RunCycle(work)
		}
	}
}

// ============================================================================
// CYCLE
// ============================================================================

// RunCycle visits every configured asset once, at most MaxConcurrentSignals at a time
func (p *Pipeline) RunCycle(ctx context.Context) {
	if !p.ensureConnected(ctx) {
		p.logger.Warn("Market data unavailable, skipping cycle")
		return
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrentSignals)
	for _, asset := range p.cfg.Assets {
		asset := asset
		g.Go(func() error {
			if err := p.processAsset(ctx, asset); err != nil {
				p.recordError(asset, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	p.metrics.cycleDone(p.now())
}

func (p *Pipeline) ensureConnected(ctx context.Context) bool {
	if p.data.IsConnected() {
		return true
	}
	if !p.reconnect.Allow() {
		p.logger.Debug("Reconnect attempts exhausted for this window")
		return false
	}

	attempt := p.reconnect.Attempts()
	p.metrics.reconnectionAttempts.Add(1)
	p.bus.Emit(events.ReconnectionAttempt, "", fmt.Sprintf("reconnection attempt %d", attempt), map[string]interface{}{
		"attempt": attempt,
	})

	rctx, cancel := context.WithTimeout(ctx, p.cfg.ReconnectTimeout)
	err := p.data.Reconnect(rctx)
	cancel()
	if err != nil || !p.data.IsConnected() {
		p.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("Reconnection failed")
		return false
	}
	p.reconnect.Reset()
	p.logger.Info("Market data reconnected")
	return true
}

// processAsset is fetch, merge, persist, generate, submit; a panic becomes an error
func (p *Pipeline) processAsset(ctx context.Context, asset string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing %s: %v", asset, r)
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	candles, err := p.data.GetLatestCandles(fetchCtx, asset, p.cfg.TimeframeMinutes, p.cfg.CandleCount)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch candles for %s: %w", asset, err)
	}

	valid := candles[:0:0]
	for _, c := range candles {
		if verr := c.Validate(); verr != nil {
			p.logger.WithFields(logrus.Fields{
				"asset": asset,
				"error": verr,
			}).Warn("Dropping malformed candle")
			continue
		}
		valid = append(valid, c)
	}

	window := p.window(asset)
	added := window.Merge(valid)
	p.persist(asset, added)

	result := p.generator.GenerateSignal(window.Candles(), asset)
	if result.Outcome != signals.OutcomeSignal {
		p.logger.WithFields(logrus.Fields{
			"asset":   asset,
			"outcome": result.Outcome.String(),
			"reason":  result.Reason,
		}).Debug("No signal")
		return nil
	}

	sig := result.Signal
	p.metrics.signalsGenerated.Add(1)
	p.bus.Emit(events.SignalGenerated, asset, signals.FormatSignal(sig), map[string]interface{}{
		"signal_type": string(sig.SignalType),
		"strength":    sig.Strength,
		"confidence":  sig.Confidence,
		"price":       sig.Price,
	})

	if p.submitter == nil {
		return nil
	}
	// executed and failed trades reach the bus through the trader hooks
	res := p.submitter.Submit(ctx, sig)
	switch {
	case res.Rejected:
		p.metrics.tradesRejected.Add(1)
		p.bus.Emit(events.TradeRejected, asset, res.Message, map[string]interface{}{
			"reason": res.Reason,
		})
	case res.Err == nil && !res.Accepted():
		p.logger.WithFields(logrus.Fields{
			"asset":  asset,
			"reason": res.Reason,
		}).Info(res.Message)
	}
	return nil
}

func (p *Pipeline) window(asset string) *types.CandleWindow {
	key := fmt.Sprintf("%s|%dm", asset, p.cfg.TimeframeMinutes)
	p.windowsMu.Lock()
	defer p.windowsMu.Unlock()
	w, ok := p.windows[key]
	if !ok {
		w = types.NewCandleWindow(p.cfg.WindowCapacity)
		p.windows[key] = w
	}
	return w
}

// persist writes newly closed candles and the latest close; write failures drop the row
func (p *Pipeline) persist(asset string, added []types.Candle) {
	if p.recorder == nil || len(added) == 0 {
		return
	}
	for _, c := range added {
		if err := p.recorder.WriteCandle(asset, p.cfg.TimeframeMinutes, c); err != nil {
			p.logger.WithFields(logrus.Fields{
				"asset": asset,
				"error": err,
			}).Warn("Failed to persist candle")
		}
	}
	last := added[len(added)-1]
	if err := p.recorder.WriteTick(asset, last.Timestamp, last.Close); err != nil {
		p.logger.WithFields(logrus.Fields{
			"asset": asset,
			"error": err,
		}).Warn("Failed to persist tick")
	}
}

func (p *Pipeline) recordError(asset string, err error) {
	p.metrics.errors.Add(1)
	p.logger.WithFields(logrus.Fields{
		"asset": asset,
		"error": err,
	}).Error("Asset cycle failed")
	p.bus.Emit(events.Error, asset, err.Error(), nil)
}

// TradeExecuted is registered as a trader execution hook
func (p *Pipeline) TradeExecuted(trade *types.AutoTrade) {
	p.metrics.tradesExecuted.Add(1)
	p.bus.Emit(events.TradeExecuted, trade.Asset,
		fmt.Sprintf("%s %s @ %.5f", trade.Direction, trade.Asset, trade.EntryPrice),
		tradeData(trade))
}

// TradeFailed is registered as a trader failure hook
func (p *Pipeline) TradeFailed(trade *types.AutoTrade) {
	p.metrics.tradesFailed.Add(1)
	p.metrics.errors.Add(1)
	p.bus.Emit(events.TradeFailed, trade.Asset,
		fmt.Sprintf("execute %s %s: %s", trade.Asset, trade.Direction, trade.Error),
		tradeData(trade))
}

// TradeClosed is registered as a trader close hook
func (p *Pipeline) TradeClosed(trade *types.AutoTrade) {
	p.metrics.tradesClosed.Add(1)
	p.bus.Emit(events.TradeClosed, trade.Asset,
		fmt.Sprintf("%s %s closed %s (%.2f)", trade.Direction, trade.Asset, trade.Outcome, trade.Profit),
		tradeData(trade))
}

func tradeData(trade *types.AutoTrade) map[string]interface{} {
	if trade == nil {
		return nil
	}
	data := map[string]interface{}{
		"trade_id":  trade.ID,
		"direction": string(trade.Direction),
		"stake":     trade.Amount,
		"status":    string(trade.Status),
	}
	if trade.EntryPrice != 0 {
		data["entry_price"] = trade.EntryPrice
	}
	if trade.Status == types.TradeClosed {
		data["exit_price"] = trade.ExitPrice
		data["profit"] = trade.Profit
		data["outcome"] = string(trade.Outcome)
	}
	return data
}

// ============================================================================
// STATUS
// ============================================================================

func (p *Pipeline) Status() Status {
	p.mu.Lock()
	state, start := p.state, p.startTime
	p.mu.Unlock()

	s := Status{
		State:     state,
		StartTime: start,
		Assets:    append([]string(nil), p.cfg.Assets...),
		Metrics:   p.metrics.Snapshot(),
		Connected: p.data.IsConnected(),
	}
	if state == StateRunning {
		s.Uptime = p.now().Sub(start)
	}
	return s
}

func (p *Pipeline) Metrics() MetricsSnapshot {
	return p.metrics.Snapshot()
}

func (p *Pipeline) Config() Config {
	return p.cfg
}
