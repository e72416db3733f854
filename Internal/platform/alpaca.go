package platform

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/fazecat/signalpilot/Internal/types"
	"github.com/fazecat/signalpilot/Internal/utils"
)

const PaperTradingURL = "https://paper-api.alpaca.markets"

// barsClient is the subset of *marketdata.Client used here
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetCryptoBars(symbol string, req marketdata.GetCryptoBarsRequest) ([]marketdata.CryptoBar, error)
}

// orderClient is the subset of *alpaca.Client used here
type orderClient interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrder(orderID string) (*alpaca.Order, error)
	CancelOrder(orderID string) error
}

type AlpacaCredentials struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

func (c AlpacaCredentials) Valid() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// ============================================================================
// MARKET DATA
// ============================================================================

type AlpacaMarketData struct {
	client      barsClient
	limiter     *rate.Limiter
	retry       utils.RetryConfig
	probeSymbol string
	logger      *logrus.Logger
	connected   atomic.Bool
	now         func() time.Time
}

// NewAlpacaMarketData limits bar requests to requestsPerSecond with a burst of the same size
func NewAlpacaMarketData(creds AlpacaCredentials, requestsPerSecond float64, probeSymbol string, logger *logrus.Logger) *AlpacaMarketData {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
	})
	return newAlpacaMarketData(client, requestsPerSecond, probeSymbol, logger)
}

func newAlpacaMarketData(client barsClient, requestsPerSecond float64, probeSymbol string, logger *logrus.Logger) *AlpacaMarketData {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 3
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	md := &AlpacaMarketData{
		client:      client,
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		retry:       utils.DefaultRetryConfig(),
		probeSymbol: probeSymbol,
		logger:      logger,
		now:         time.Now,
	}
	md.connected.Store(true)
	return md
}

func (a *AlpacaMarketData) IsConnected() bool {
	return a.connected.Load()
}

// crypto pairs are written with a slash, e.g. BTC/USD
func isCrypto(asset string) bool {
	return strings.Contains(asset, "/")
}

func (a *AlpacaMarketData) GetLatestCandles(ctx context.Context, asset string, timeframeMinutes, count int) ([]types.Candle, error) {
	if !a.IsConnected() {
		return nil, ErrDisconnected
	}
	if timeframeMinutes <= 0 || count <= 0 {
		return nil, fmt.Errorf("invalid candle request: timeframe=%d count=%d", timeframeMinutes, count)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	candles, err := a.fetch(ctx, asset, timeframeMinutes, count)
	if err == nil {
		return candles, nil
	}
	if a.upstreamDown(ctx, asset, err) {
		a.connected.Store(false)
		a.logger.WithFields(logrus.Fields{
			"asset": asset,
			"error": err,
		}).Warn("Alpaca bars request failed, marking data source disconnected")
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	a.logger.WithFields(logrus.Fields{
		"asset": asset,
		"error": err,
	}).Warn("Alpaca bars request failed for asset")
	return nil, fmt.Errorf("alpaca bars for %s: %w", asset, err)
}

// upstreamDown tells a feed outage apart from a failure of one symbol.
// Timeouts and client errors stay per asset, auth errors are fatal, and
// anything else is settled by fetching the probe symbol.
func (a *AlpacaMarketData) upstreamDown(ctx context.Context, asset string, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return true
		case apiErr.StatusCode < http.StatusInternalServerError && apiErr.StatusCode != http.StatusTooManyRequests:
			return false
		}
	}

	probe := a.probe()
	if asset == probe {
		return true
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return false
	}
	_, probeErr := a.fetch(ctx, probe, 1, 1)
	return probeErr != nil && ctx.Err() == nil
}

func (a *AlpacaMarketData) probe() string {
	if a.probeSymbol == "" {
		return "SPY"
	}
	return a.probeSymbol
}

// fetch runs the blocking SDK call and gives up when ctx ends first
func (a *AlpacaMarketData) fetch(ctx context.Context, asset string, timeframeMinutes, count int) ([]types.Candle, error) {
	type result struct {
		candles []types.Candle
		err     error
	}
	done := make(chan result, 1)

	go func() {
		candles, err := a.bars(asset, timeframeMinutes, count)
		done <- result{candles, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.candles, r.err
	}
}

func (a *AlpacaMarketData) bars(asset string, timeframeMinutes, count int) ([]types.Candle, error) {
	now := a.now().UTC()
	barDur := time.Duration(timeframeMinutes) * time.Minute
	// markets close, so look back well past count bars
	start := now.Add(-barDur * time.Duration(count*4+2))
	tf := marketdata.NewTimeFrame(timeframeMinutes, marketdata.Min)

	var candles []types.Candle
	if isCrypto(asset) {
		bars, err := a.client.GetCryptoBars(asset, marketdata.GetCryptoBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       now,
		})
		if err != nil {
			return nil, err
		}
		for _, b := range bars {
			candles = append(candles, types.Candle{
				Timestamp: b.Timestamp.UTC(), Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
			})
		}
	} else {
		bars, err := a.client.GetBars(asset, marketdata.GetBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       now,
		})
		if err != nil {
			return nil, err
		}
		for _, b := range bars {
			candles = append(candles, types.Candle{
				Timestamp: b.Timestamp.UTC(), Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: float64(b.Volume),
			})
		}
	}

	return closedTail(candles, barDur, now, count), nil
}

// closedTail drops the in-progress bar and keeps the newest count bars
func closedTail(candles []types.Candle, barDur time.Duration, now time.Time, count int) []types.Candle {
	closed := candles[:0]
	for _, c := range candles {
		if !c.Timestamp.Add(barDur).After(now) {
			closed = append(closed, c)
		}
	}
	if len(closed) > count {
		closed = closed[len(closed)-count:]
	}
	return closed
}

// Reconnect probes the API with a small bars request using retry with backoff
func (a *AlpacaMarketData) Reconnect(ctx context.Context) error {
	probe := a.probe()
	err := utils.RetryWithBackoff(ctx, func() error {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", utils.ErrPermanent, err)
		}
		_, err := a.fetch(ctx, probe, 1, 1)
		return err
	}, a.retry)
	if err != nil {
		return fmt.Errorf("alpaca reconnect failed: %w", err)
	}
	a.connected.Store(true)
	a.logger.Info("Alpaca market data reconnected")
	return nil
}

// ============================================================================
// BROKER
// ============================================================================

type alpacaPosition struct {
	symbol    string
	direction types.SignalType
	qty       decimal.Decimal
	entry     decimal.Decimal
	expiresAt time.Time

	// set once the closing order is placed; later settlement attempts poll it
	closeOrderID string
}

var errOrderEnded = errors.New("order ended without a fill")

// AlpacaBroker opens a market order per trade and closes it once the expiry passes.
// CALLs buy a notional amount; PUTs short whole shares.
type AlpacaBroker struct {
	client       orderClient
	logger       *logrus.Logger
	pollInterval time.Duration
	now          func() time.Time

	mu        sync.Mutex
	positions map[string]*alpacaPosition
}

func NewAlpacaBroker(creds AlpacaCredentials, logger *logrus.Logger) *AlpacaBroker {
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = PaperTradingURL
	}
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
		BaseURL:   baseURL,
	})
	return newAlpacaBroker(client, logger)
}

func newAlpacaBroker(client orderClient, logger *logrus.Logger) *AlpacaBroker {
	return &AlpacaBroker{
		client:       client,
		logger:       logger,
		pollInterval: 500 * time.Millisecond,
		now:          time.Now,
		positions:    make(map[string]*alpacaPosition),
	}
}

// KeepsPositions reports that executed trades are real account positions
func (b *AlpacaBroker) KeepsPositions() bool {
	return true
}

func sideFor(direction types.SignalType) (alpaca.Side, error) {
	switch direction {
	case types.SignalCall:
		return alpaca.Buy, nil
	case types.SignalPut:
		return alpaca.Sell, nil
	}
	return "", fmt.Errorf("cannot trade direction %q", direction)
}

// shortQty sizes a short sale; Alpaca rejects fractional and notional shorts
func shortQty(asset string, stake, price float64) (decimal.Decimal, error) {
	if price <= 0 {
		return decimal.Zero, fmt.Errorf("cannot size a short sale of %s without a reference price", asset)
	}
	shares := math.Floor(stake / price)
	if shares < 1 {
		return decimal.Zero, fmt.Errorf("stake %.2f buys less than one share of %s at %.2f, short sales need whole shares", stake, asset, price)
	}
	return decimal.NewFromFloat(shares), nil
}

func (b *AlpacaBroker) ExecuteTrade(ctx context.Context, req ExecutionRequest) (*Execution, error) {
	side, err := sideFor(req.Direction)
	if err != nil {
		return nil, err
	}
	orderReq := alpaca.PlaceOrderRequest{
		Symbol:      req.Asset,
		Side:        side,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}
	if req.Direction == types.SignalPut {
		qty, err := shortQty(req.Asset, req.Stake, req.ReferencePrice)
		if err != nil {
			return nil, err
		}
		orderReq.Qty = &qty
	} else {
		notional := decimal.NewFromFloat(req.Stake).Round(2)
		orderReq.Notional = &notional
	}

	order, err := b.client.PlaceOrder(orderReq)
	if err != nil {
		return nil, fmt.Errorf("failed to place %s order for %s: %w", side, req.Asset, err)
	}

	filled, err := b.waitForFill(ctx, order.ID)
	if err != nil {
		if !errors.Is(err, errOrderEnded) {
			b.cancelOrder(order.ID, req.Asset)
		}
		return nil, err
	}

	confirmedAt := b.now().UTC()
	if filled.FilledAt != nil {
		confirmedAt = filled.FilledAt.UTC()
	}

	b.mu.Lock()
	b.positions[filled.ID] = &alpacaPosition{
		symbol:    req.Asset,
		direction: req.Direction,
		qty:       filled.FilledQty,
		entry:     *filled.FilledAvgPrice,
		expiresAt: confirmedAt.Add(req.Expiry),
	}
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"order_id": filled.ID,
		"symbol":   req.Asset,
		"side":     side,
		"qty":      filled.FilledQty.String(),
		"price":    filled.FilledAvgPrice.String(),
	}).Info("Alpaca order filled")

	price, _ := filled.FilledAvgPrice.Float64()
	return &Execution{
		PlatformTradeID: filled.ID,
		ConfirmedPrice:  price,
		ConfirmedAt:     confirmedAt,
	}, nil
}

// cancelOrder withdraws an order that did not fill in time so it cannot open a position later
func (b *AlpacaBroker) cancelOrder(orderID, symbol string) {
	fields := logrus.Fields{
		"order_id": orderID,
		"symbol":   symbol,
	}
	if err := b.client.CancelOrder(orderID); err != nil {
		fields["error"] = err
		b.logger.WithFields(fields).Error("Failed to cancel unfilled order, check the account for an open order")
		return
	}
	b.logger.WithFields(fields).Warn("Cancelled unfilled order")
}

func (b *AlpacaBroker) waitForFill(ctx context.Context, orderID string) (*alpaca.Order, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		order, err := b.client.GetOrder(orderID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
		}
		switch order.Status {
		case "canceled", "expired", "rejected":
			return nil, fmt.Errorf("order %s ended with status %s: %w", orderID, order.Status, errOrderEnded)
		}
		if order.FilledAvgPrice != nil && order.FilledQty.IsPositive() && order.Status == "filled" {
			return order, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for fill of %s: %w", orderID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetOutcome closes the position after expiry and reports realized P&L.
// A close order that has not filled yet is polled again on the next call.
func (b *AlpacaBroker) GetOutcome(ctx context.Context, platformTradeID string) (*Settlement, error) {
	b.mu.Lock()
	pos, ok := b.positions[platformTradeID]
	var closeID string
	if ok {
		closeID = pos.closeOrderID
	}
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown alpaca order %s", platformTradeID)
	}
	if b.now().Before(pos.expiresAt) {
		return &Settlement{Settled: false}, nil
	}

	if closeID == "" {
		closeSide := alpaca.Sell
		if pos.direction == types.SignalPut {
			closeSide = alpaca.Buy
		}
		qty := pos.qty
		order, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
			Symbol:      pos.symbol,
			Qty:         &qty,
			Side:        closeSide,
			Type:        alpaca.Market,
			TimeInForce: alpaca.Day,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to close position %s: %w", platformTradeID, err)
		}
		closeID = order.ID
		b.mu.Lock()
		pos.closeOrderID = closeID
		b.mu.Unlock()
	}

	filled, err := b.waitForFill(ctx, closeID)
	if err != nil {
		// a dead close order is replaced on the next attempt
		if errors.Is(err, errOrderEnded) {
			b.mu.Lock()
			pos.closeOrderID = ""
			b.mu.Unlock()
		}
		return nil, err
	}

	exit := *filled.FilledAvgPrice
	profit := exit.Sub(pos.entry).Mul(pos.qty)
	if pos.direction == types.SignalPut {
		profit = profit.Neg()
	}

	b.mu.Lock()
	delete(b.positions, platformTradeID)
	b.mu.Unlock()

	entryF, _ := pos.entry.Float64()
	exitF, _ := exit.Float64()
	profitF, _ := profit.Round(2).Float64()
	return &Settlement{
		Settled:   true,
		ExitPrice: exitF,
		Profit:    profitF,
		Outcome:   outcomeFor(pos.direction, entryF, exitF),
	}, nil
}
