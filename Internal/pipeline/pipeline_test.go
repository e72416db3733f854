package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fazecat/signalpilot/Internal/events"
	"github.com/fazecat/signalpilot/Internal/handlers/trader"
	"github.com/fazecat/signalpilot/Internal/strategy/signals"
	"github.com/fazecat/signalpilot/Internal/types"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func series(n int) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		price := 1.10 + float64(i)*0.0001
		out[i] = types.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price + 0.0002,
			Low:       price - 0.0002,
			Close:     price + 0.0001,
		}
	}
	return out
}

type fakeData struct {
	mu           sync.Mutex
	candles      []types.Candle
	fetchErr     map[string]error
	delay        time.Duration
	connected    bool
	reconnectErr error
	reconnects   int

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeData) GetLatestCandles(ctx context.Context, asset string, _, count int) ([]types.Candle, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[asset]; err != nil {
		return nil, err
	}
	out := f.candles
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return append([]types.Candle(nil), out...), nil
}

func (f *fakeData) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeData) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.reconnectErr != nil {
		return f.reconnectErr
	}
	f.connected = true
	return nil
}

// fakeGenerator emits a CALL for every asset unless told to panic or hold
type fakeGenerator struct {
	panicFor string
	hold     bool
}

func (g *fakeGenerator) GenerateSignal(window []types.Candle, asset string) signals.Result {
	if asset == g.panicFor {
		panic("indicator fault")
	}
	if g.hold || len(window) == 0 {
		return signals.Result{Outcome: signals.OutcomeHold}
	}
	return signals.Result{
		Outcome: signals.OutcomeSignal,
		Signal: &types.TradingSignal{
			Asset:      asset,
			SignalType: types.SignalCall,
			Strength:   0.6,
			Confidence: 0.9,
			Price:      window[len(window)-1].Close,
		},
	}
}

type fakeSubmitter struct {
	mu       sync.Mutex
	assets   []string
	ctxErrs  []error
	entered  chan struct{}
	release  chan struct{}
	rejectOn string
	failOn   string

	// stands in for the trader hooks registered by the app
	hooks *Pipeline
}

func (s *fakeSubmitter) Submit(ctx context.Context, sig *types.TradingSignal) trader.SubmitResult {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	s.assets = append(s.assets, sig.Asset)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	s.mu.Unlock()

	switch sig.Asset {
	case s.rejectOn:
		return trader.SubmitResult{Rejected: true, Reason: "MAX_CONCURRENT_TRADES", Message: "limit reached"}
	case s.failOn:
		trade := &types.AutoTrade{ID: "t-fail", Asset: sig.Asset, Status: types.TradeFailed, Error: "platform down"}
		if s.hooks != nil {
			s.hooks.TradeFailed(trade)
		}
		return trader.SubmitResult{Trade: trade, Err: errors.New("platform down")}
	}
	trade := &types.AutoTrade{
		ID:         "t-" + sig.Asset,
		Asset:      sig.Asset,
		Direction:  sig.SignalType,
		Amount:     10,
		EntryPrice: sig.Price,
		Status:     types.TradeExecuted,
	}
	if s.hooks != nil {
		s.hooks.TradeExecuted(trade)
	}
	return trader.SubmitResult{Trade: trade}
}

type fakeRecorder struct {
	mu      sync.Mutex
	ticks   int
	candles int
}

func (r *fakeRecorder) WriteTick(string, time.Time, float64) error {
	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) WriteCandle(string, int, types.Candle) error {
	r.mu.Lock()
	r.candles++
	r.mu.Unlock()
	return nil
}

func testConfig(assets ...string) Config {
	cfg := DefaultConfig()
	cfg.Assets = assets
	cfg.CandleCount = 50
	cfg.WindowCapacity = 100
	cfg.SignalInterval = time.Hour
	return cfg
}

func eventTypes(bus *events.Bus) []events.Type {
	var out []events.Type
	for _, e := range bus.History(0) {
		out = append(out, e.Type)
	}
	return out
}

func TestRunCycle_PanicDoesNotBlockNextAsset(t *testing.T) {
	data := &fakeData{candles: series(60), connected: true}
	sub := &fakeSubmitter{}
	bus := events.NewBus(100, quietLogger())
	cfg := testConfig("EURUSD", "GBPUSD")
	cfg.MaxConcurrentSignals = 1
	p := New(cfg, data, &fakeGenerator{panicFor: "EURUSD"}, sub, nil, bus, quietLogger())
	sub.hooks = p

	p.RunCycle(context.Background())

	if len(sub.assets) != 1 || sub.assets[0] != "GBPUSD" {
		t.Errorf("submitted assets = %v, want [GBPUSD]", sub.assets)
	}
	m := p.Metrics()
	if m.Errors != 1 || m.SignalsGenerated != 1 || m.TradesExecuted != 1 || m.CyclesCompleted != 1 {
		t.Errorf("Metrics() = %+v", m)
	}
	want := []events.Type{events.Error, events.SignalGenerated, events.TradeExecuted}
	got := eventTypes(bus)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRunCycle_SubmissionOutcomes(t *testing.T) {
	data := &fakeData{
		candles:   series(60),
		connected: true,
		fetchErr:  map[string]error{"AUDUSD": errors.New("timeout")},
	}
	sub := &fakeSubmitter{rejectOn: "GBPUSD", failOn: "USDJPY"}
	bus := events.NewBus(100, quietLogger())
	p := New(testConfig("EURUSD", "GBPUSD", "USDJPY", "AUDUSD"), data, &fakeGenerator{}, sub, nil, bus, quietLogger())
	sub.hooks = p

	p.RunCycle(context.Background())

	m := p.Metrics()
	if m.SignalsGenerated != 3 || m.TradesExecuted != 1 || m.TradesRejected != 1 || m.TradesFailed != 1 {
		t.Errorf("Metrics() = %+v", m)
	}
	// one failed submission and one failed fetch
	if m.Errors != 2 {
		t.Errorf("Metrics().Errors = %d, want 2", m.Errors)
	}
	counts := map[events.Type]int{}
	for _, typ := range eventTypes(bus) {
		counts[typ]++
	}
	if counts[events.TradeRejected] != 1 || counts[events.TradeFailed] != 1 || counts[events.Error] != 1 {
		t.Errorf("event counts = %v", counts)
	}
}

func TestRunCycle_InsufficientDataIsNotAnError(t *testing.T) {
	data := &fakeData{candles: series(5), connected: true}
	sub := &fakeSubmitter{}
	bus := events.NewBus(100, quietLogger())
	engine := signals.NewEngine(signals.DefaultConfig())
	p := New(testConfig("EURUSD"), data, engine, sub, nil, bus, quietLogger())

	p.RunCycle(context.Background())

	if m := p.Metrics(); m.Errors != 0 || m.SignalsGenerated != 0 || m.CyclesCompleted != 1 {
		t.Errorf("Metrics() = %+v", m)
	}
	if bus.Len() != 0 {
		t.Errorf("bus has %d events, want 0", bus.Len())
	}
}

func TestRunCycle_PersistsOnlyNewCandles(t *testing.T) {
	data := &fakeData{candles: series(10), connected: true}
	rec := &fakeRecorder{}
	p := New(testConfig("EURUSD"), data, &fakeGenerator{hold: true}, nil, rec, events.NewBus(10, quietLogger()), quietLogger())

	p.RunCycle(context.Background())
	p.RunCycle(context.Background())
	if rec.candles != 10 || rec.ticks != 1 {
		t.Errorf("after two identical cycles candles=%d ticks=%d, want 10 and 1", rec.candles, rec.ticks)
	}

	data.mu.Lock()
	data.candles = series(12)
	data.mu.Unlock()
	p.RunCycle(context.Background())
	if rec.candles != 12 || rec.ticks != 2 {
		t.Errorf("after new bars candles=%d ticks=%d, want 12 and 2", rec.candles, rec.ticks)
	}
}

func TestRunCycle_ConcurrencyCap(t *testing.T) {
	data := &fakeData{candles: series(60), connected: true, delay: 20 * time.Millisecond}
	cfg := testConfig("A", "B", "C", "D", "E", "F")
	cfg.MaxConcurrentSignals = 2
	p := New(cfg, data, &fakeGenerator{hold: true}, nil, nil, events.NewBus(10, quietLogger()), quietLogger())

	p.RunCycle(context.Background())

	if got := data.maxInflight.Load(); got > 2 || got == 0 {
		t.Errorf("max in-flight fetches = %d, want 1..2", got)
	}
}

func TestRunCycle_ReconnectWindow(t *testing.T) {
	data := &fakeData{candles: series(60), reconnectErr: errors.New("refused")}
	bus := events.NewBus(100, quietLogger())
	p := New(testConfig("EURUSD"), data, &fakeGenerator{hold: true}, nil, nil, bus, quietLogger())
	clock := base
	p.reconnect.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		p.RunCycle(context.Background())
		clock = clock.Add(5 * time.Second)
	}
	if data.reconnects != 3 {
		t.Errorf("reconnect calls = %d, want 3 within the window", data.reconnects)
	}
	if m := p.Metrics(); m.ReconnectionAttempts != 3 || m.CyclesCompleted != 0 {
		t.Errorf("Metrics() = %+v", m)
	}

	clock = clock.Add(60 * time.Second)
	data.mu.Lock()
	data.reconnectErr = nil
	data.mu.Unlock()
	p.RunCycle(context.Background())

	if data.reconnects != 4 {
		t.Errorf("reconnect calls = %d, want 4 after the window elapsed", data.reconnects)
	}
	if m := p.Metrics(); m.CyclesCompleted != 1 {
		t.Errorf("cycle should run once reconnected, metrics = %+v", m)
	}
	if p.reconnect.Attempts() != 0 {
		t.Errorf("Attempts() = %d after success, want 0", p.reconnect.Attempts())
	}
}

func TestReconnectPolicy_Allow(t *testing.T) {
	r := NewReconnectPolicy(3, time.Minute)
	clock := base
	r.now = func() time.Time { return clock }

	steps := []struct {
		advance time.Duration
		want    bool
	}{
		{0, true},
		{10 * time.Second, true},
		{10 * time.Second, true},
		{10 * time.Second, false},
		{30 * time.Second, false},
		// a full window since the last allowed attempt
		{30 * time.Second, true},
		{time.Second, true},
	}
	for i, step := range steps {
		clock = clock.Add(step.advance)
		if got := r.Allow(); got != step.want {
			t.Errorf("step %d: Allow() = %v, want %v", i, got, step.want)
		}
	}
}

func TestStartStop_InFlightSubmissionCompletes(t *testing.T) {
	data := &fakeData{candles: series(60), connected: true}
	sub := &fakeSubmitter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	bus := events.NewBus(100, quietLogger())
	p := New(testConfig("EURUSD"), data, &fakeGenerator{}, sub, nil, bus, quietLogger())
	sub.hooks = p

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	<-sub.entered
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if p.IsRunning() {
		t.Errorf("IsRunning() = true after Stop")
	}
	close(sub.release)
	p.Wait()

	if len(sub.ctxErrs) != 1 || sub.ctxErrs[0] != nil {
		t.Errorf("in-flight submission saw ctx errors %v, want [nil]", sub.ctxErrs)
	}
	if m := p.Metrics(); m.TradesExecuted != 1 || m.CyclesCompleted != 1 {
		t.Errorf("Metrics() = %+v", m)
	}
	if err := p.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() on stopped pipeline = %v, want ErrNotRunning", err)
	}

	got := eventTypes(bus)
	if len(got) < 3 || got[0] != events.PipelineStarted || got[1] != events.SignalGenerated {
		t.Errorf("events = %v", got)
	}
	if got[len(got)-1] != events.TradeExecuted {
		t.Errorf("last event = %s, want trade_executed after the stop", got[len(got)-1])
	}
}

func TestStatusAndTradeClosed(t *testing.T) {
	data := &fakeData{connected: true}
	bus := events.NewBus(10, quietLogger())
	p := New(testConfig("EURUSD"), data, &fakeGenerator{hold: true}, nil, nil, bus, quietLogger())

	if s := p.Status(); s.State != StateStopped || s.Uptime != 0 || !s.Connected {
		t.Errorf("Status() = %+v", s)
	}

	p.TradeClosed(&types.AutoTrade{ID: "x", Asset: "EURUSD", Direction: types.SignalPut, Status: types.TradeClosed, Outcome: types.OutcomeWin, Profit: 8})
	if m := p.Metrics(); m.TradesClosed != 1 {
		t.Errorf("Metrics().TradesClosed = %d, want 1", m.TradesClosed)
	}
	last := bus.History(1)[0]
	if last.Type != events.TradeClosed || last.Data["profit"] != 8.0 {
		t.Errorf("closed event = %+v", last)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	bad := DefaultConfig()
	bad.Assets = nil
	bad.WindowCapacity = 10
	if err := bad.Validate(); err == nil {
		t.Errorf("Validate() = nil for an empty asset list")
	}
}
