package platform

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fazecat/signalpilot/Internal/types"
)

const maxSimulatedHistory = 2000

type SimulatedConfig struct {
	Seed       int64
	BasePrices map[string]float64
	Volatility float64 // per-bar sigma of log returns
	Drift      float64
}

type simSeries struct {
	candles []types.Candle
}

// SimulatedFeed generates random-walk candles per asset and timeframe
type SimulatedFeed struct {
	cfg    SimulatedConfig
	normal distuv.Normal
	now    func() time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	series    map[string]*simSeries
	connected bool
}

func NewSimulatedFeed(cfg SimulatedConfig) *SimulatedFeed {
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.0008
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	return &SimulatedFeed{
		cfg:       cfg,
		normal:    distuv.Normal{Mu: cfg.Drift, Sigma: cfg.Volatility},
		now:       time.Now,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		series:    make(map[string]*simSeries),
		connected: true,
	}
}

// SetClock replaces the wall clock
func (f *SimulatedFeed) SetClock(now func() time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// SetConnected simulates the upstream dropping or coming back
func (f *SimulatedFeed) SetConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
}

func (f *SimulatedFeed) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *SimulatedFeed) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.SetConnected(true)
	return nil
}

// draw samples the normal distribution through its quantile with the seeded source
func (f *SimulatedFeed) draw() float64 {
	p := f.rng.Float64()
	p = math.Min(math.Max(p, 1e-9), 1-1e-9)
	return f.normal.Quantile(p)
}

func (f *SimulatedFeed) nextCandle(ts time.Time, open float64) types.Candle {
	closePrice := open * math.Exp(f.draw())
	wickUp := math.Abs(f.draw()) / 2
	wickDown := math.Abs(f.draw()) / 2
	return types.Candle{
		Timestamp: ts,
		Open:      open,
		Close:     closePrice,
		High:      math.Max(open, closePrice) * (1 + wickUp),
		Low:       math.Min(open, closePrice) * (1 - wickDown),
		Volume:    float64(100 + f.rng.Intn(900)),
	}
}

func (f *SimulatedFeed) GetLatestCandles(ctx context.Context, asset string, timeframeMinutes, count int) ([]types.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeframeMinutes <= 0 || count <= 0 {
		return nil, fmt.Errorf("invalid candle request: timeframe=%d count=%d", timeframeMinutes, count)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, ErrDisconnected
	}

	barDur := time.Duration(timeframeMinutes) * time.Minute
	// start of the newest closed bar
	lastClosed := f.now().UTC().Truncate(barDur).Add(-barDur)

	key := fmt.Sprintf("%s|%d", asset, timeframeMinutes)
	s, ok := f.series[key]
	if !ok {
		s = &simSeries{}
		f.series[key] = s
		price := f.cfg.BasePrices[asset]
		if price <= 0 {
			price = 1.0
		}
		start := lastClosed.Add(-barDur * time.Duration(count-1))
		for ts := start; !ts.After(lastClosed); ts = ts.Add(barDur) {
			c := f.nextCandle(ts, price)
			s.candles = append(s.candles, c)
			price = c.Close
		}
	}

	for {
		last := s.candles[len(s.candles)-1]
		next := last.Timestamp.Add(barDur)
		if next.After(lastClosed) {
			break
		}
		s.candles = append(s.candles, f.nextCandle(next, last.Close))
	}
	if len(s.candles) > maxSimulatedHistory {
		s.candles = append([]types.Candle(nil), s.candles[len(s.candles)-maxSimulatedHistory:]...)
	}

	n := count
	if n > len(s.candles) {
		n = len(s.candles)
	}
	out := make([]types.Candle, n)
	copy(out, s.candles[len(s.candles)-n:])
	return out, nil
}
