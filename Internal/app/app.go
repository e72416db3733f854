package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	datafeed "github.com/fazecat/signalpilot/Internal/database"
	"github.com/fazecat/signalpilot/Internal/events"
	"github.com/fazecat/signalpilot/Internal/handlers/monitoring"
	"github.com/fazecat/signalpilot/Internal/handlers/risk"
	"github.com/fazecat/signalpilot/Internal/handlers/trader"
	"github.com/fazecat/signalpilot/Internal/pipeline"
	"github.com/fazecat/signalpilot/Internal/platform"
	"github.com/fazecat/signalpilot/Internal/strategy/signals"
	"github.com/fazecat/signalpilot/Internal/utils"
	"github.com/fazecat/signalpilot/Internal/utils/config"
)

// App owns every long-lived component of one process
type App struct {
	Config *config.Store
	Logger *logrus.Logger

	Bus        *events.Bus
	MarketData platform.MarketData
	Platform   platform.TradingPlatform
	Writer     *datafeed.RotatingWriter
	Journal    *datafeed.TradeJournal
	Risk       *risk.Manager
	Monitor    *monitoring.Monitor
	Engine     *signals.Engine
	Trader     *trader.Trader
	Pipeline   *pipeline.Pipeline

	kafka *events.KafkaSink

	mu           sync.Mutex
	expiryCancel context.CancelFunc
	expiryDone   chan struct{}
}

// Option overrides a collaborator before wiring, mostly for tests
type Option func(*App)

func WithMarketData(md platform.MarketData) Option {
	return func(a *App) { a.MarketData = md }
}

func WithPlatform(tp platform.TradingPlatform) Option {
	return func(a *App) { a.Platform = tp }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(a *App) { a.Logger = logger }
}

// New builds the component graph from the current config snapshot
func New(store *config.Store, opts ...Option) (*App, error) {
	cfg := store.Get()
	a := &App{Config: store}
	for _, opt := range opts {
		opt(a)
	}
	if a.Logger == nil {
		a.Logger = utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	logger := a.Logger

	a.Bus = events.NewBus(cfg.Events.HistorySize, logger)
	if cfg.Kafka.Enabled {
		sink, err := events.NewKafkaSink(cfg.Kafka.Broker, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka disabled, events stay in memory")
		} else {
			a.kafka = sink
			a.Bus.Subscribe(sink.Handle)
		}
	}

	creds := platform.AlpacaCredentials{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		BaseURL:   cfg.Alpaca.BaseURL,
	}
	if a.MarketData == nil {
		a.MarketData = newMarketData(cfg, creds, logger)
	}
	if a.Platform == nil {
		a.Platform = newPlatform(cfg, creds, a.MarketData, logger)
	}

	writer, err := datafeed.NewRotatingWriter(datafeed.WriterConfig{
		Dir:             cfg.Storage.Dir,
		Session:         cfg.Storage.Session,
		TickChunkSize:   cfg.Storage.TickChunkSize,
		CandleChunkSize: cfg.Storage.CandleChunkSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create data writer: %w", err)
	}
	a.Writer = writer

	a.Risk = risk.NewManager(cfg.Risk, logger)
	a.Risk.RegisterAlertCallback(func(alert *risk.Alert) {
		logger.WithFields(logrus.Fields{
			"level": alert.Level,
			"asset": alert.Asset,
		}).Warn(alert.Title + ": " + alert.Message)
	})
	a.Monitor = monitoring.NewMonitor(logger)

	var recorder trader.TradeRecorder
	if cfg.Journal.Driver != "" {
		db, err := datafeed.OpenDatabase(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			logger.WithError(err).Warn("Trade journal unavailable, trades are kept in memory only")
		} else {
			a.Journal = datafeed.NewTradeJournal(db, cfg.Journal.Driver, logger)
			recorder = a.Journal
			a.restoreDailyCounters()
		}
	}

	a.Engine = signals.NewEngine(cfg.Signals)
	a.Trader = trader.New(cfg.Trading, a.Platform, a.Risk, a.Monitor, recorder, logger)
	a.Pipeline = pipeline.New(cfg.Pipeline, a.MarketData, a.Engine, a.Trader, a.Writer, a.Bus, logger)
	// every submission path, pipeline or manual, reports through these hooks
	a.Trader.OnTradeExecuted(a.Pipeline.TradeExecuted)
	a.Trader.OnTradeFailed(a.Pipeline.TradeFailed)
	a.Trader.OnTradeClosed(a.Pipeline.TradeClosed)

	// components keep the snapshot they were built with; only the log level follows reloads
	store.OnReload(func(c *config.Config) {
		if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
			logger.SetLevel(lvl)
		}
		logger.Info("Configuration reloaded, component settings apply after restart")
	})

	logger.WithFields(logrus.Fields{
		"market_data": cfg.MarketData.Source,
		"broker":      cfg.Broker.Kind,
		"journal":     cfg.Journal.Driver,
		"kafka":       a.kafka != nil,
		"session":     a.Writer.Session(),
	}).Info("Application initialized")
	return a, nil
}

func newMarketData(cfg *config.Config, creds platform.AlpacaCredentials, logger *logrus.Logger) platform.MarketData {
	if cfg.MarketData.Source == config.SourceAlpaca {
		return platform.NewAlpacaMarketData(creds, cfg.MarketData.RequestsPerSecond, cfg.MarketData.ProbeSymbol, logger)
	}
	return platform.NewSimulatedFeed(platform.SimulatedConfig{
		Seed:       cfg.MarketData.Seed,
		BasePrices: cfg.MarketData.BasePrices,
		Volatility: cfg.MarketData.Volatility,
	})
}

func newPlatform(cfg *config.Config, creds platform.AlpacaCredentials, md platform.MarketData, logger *logrus.Logger) platform.TradingPlatform {
	if cfg.Broker.Kind == config.BrokerAlpaca {
		return platform.NewAlpacaBroker(creds, logger)
	}
	return platform.NewPaperBroker(md, cfg.Broker.Payout, cfg.Pipeline.TimeframeMinutes, logger)
}

// restoreDailyCounters carries today's trade count and P&L across a restart
func (a *App) restoreDailyCounters() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary, err := a.Journal.GetDailySummary(ctx, time.Now().UTC())
	if err != nil {
		a.Logger.WithError(err).Warn("Could not restore daily counters from the journal")
		return
	}
	if summary.TotalTrades == 0 {
		return
	}
	pnl, _ := summary.NetProfit.Float64()
	loss, _ := summary.GrossLoss.Float64()
	a.Risk.Restore(summary.Counted, pnl, loss)
	a.Logger.WithFields(logrus.Fields{
		"trades": summary.Counted,
		"pnl":    pnl,
	}).Info("Restored daily risk counters")
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start enables trading, starts the expiry loop and the signal pipeline
func (a *App) Start(ctx context.Context) error {
	a.StartTrading()
	return a.StartPipeline(ctx)
}

// StartPipeline starts the expiry loop and the signal pipeline and leaves
// the trading switch where it is
func (a *App) StartPipeline(ctx context.Context) error {
	a.startExpiryLoop(ctx)
	if err := a.Pipeline.Start(ctx); err != nil && !errors.Is(err, pipeline.ErrAlreadyRunning) {
		return err
	}
	return nil
}

func (a *App) StartTrading() {
	a.Trader.StartAutomatedTrading()
}

func (a *App) StopTrading() {
	a.Trader.StopAutomatedTrading()
}

func (a *App) startExpiryLoop(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.expiryCancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.expiryCancel = cancel
	a.expiryDone = done
	go func() {
		defer close(done)
		a.Trader.RunExpiryLoop(loopCtx)
	}()
}

// Shutdown stops scheduling, lets in-flight work finish and releases resources
func (a *App) Shutdown() {
	if err := a.Pipeline.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
		a.Logger.WithError(err).Warn("Pipeline stop failed")
	}
	a.Pipeline.Wait()
	a.StopTrading()

	// one last pass so trades that already expired are settled and journaled
	settleCtx, cancel := context.WithTimeout(context.Background(), a.Config.Get().Trading.SettleTimeout)
	a.Trader.CheckExpiries(settleCtx)
	cancel()

	a.mu.Lock()
	if a.expiryCancel != nil {
		a.expiryCancel()
		<-a.expiryDone
		a.expiryCancel = nil
	}
	a.mu.Unlock()

	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close trade journal")
		}
	}
	a.Logger.Info("Shutdown complete")
}
