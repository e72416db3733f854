package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fazecat/signalpilot/Internal/types"
)

const DefaultPayout = 0.8

type paperPosition struct {
	req       ExecutionRequest
	entry     float64
	expiresAt time.Time
}

// PaperBroker settles fixed-payout binary options against a market data source
type PaperBroker struct {
	data             MarketData
	payout           float64
	timeframeMinutes int
	logger           *logrus.Logger
	now              func() time.Time

	mu        sync.Mutex
	positions map[string]*paperPosition
}

func NewPaperBroker(data MarketData, payout float64, timeframeMinutes int, logger *logrus.Logger) *PaperBroker {
	if payout <= 0 {
		payout = DefaultPayout
	}
	if timeframeMinutes <= 0 {
		timeframeMinutes = 1
	}
	return &PaperBroker{
		data:             data,
		payout:           payout,
		timeframeMinutes: timeframeMinutes,
		logger:           logger,
		now:              time.Now,
		positions:        make(map[string]*paperPosition),
	}
}

func (p *PaperBroker) lastPrice(ctx context.Context, asset string) (float64, error) {
	candles, err := p.data.GetLatestCandles(ctx, asset, p.timeframeMinutes, 1)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("no price available for %s", asset)
	}
	return candles[len(candles)-1].Close, nil
}

func (p *PaperBroker) ExecuteTrade(ctx context.Context, req ExecutionRequest) (*Execution, error) {
	if req.Direction != types.SignalCall && req.Direction != types.SignalPut {
		return nil, fmt.Errorf("cannot trade direction %q", req.Direction)
	}
	if req.Stake <= 0 {
		return nil, fmt.Errorf("stake must be positive, got %.2f", req.Stake)
	}
	price, err := p.lastPrice(ctx, req.Asset)
	if err != nil {
		return nil, fmt.Errorf("paper execution for %s: %w", req.Asset, err)
	}

	now := p.now().UTC()
	id := uuid.NewString()
	p.mu.Lock()
	p.positions[id] = &paperPosition{req: req, entry: price, expiresAt: now.Add(req.Expiry)}
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"paper_id":  id,
		"asset":     req.Asset,
		"direction": req.Direction,
		"stake":     req.Stake,
		"price":     price,
	}).Debug("Paper trade opened")

	return &Execution{PlatformTradeID: id, ConfirmedPrice: price, ConfirmedAt: now}, nil
}

func (p *PaperBroker) GetOutcome(ctx context.Context, platformTradeID string) (*Settlement, error) {
	p.mu.Lock()
	pos, ok := p.positions[platformTradeID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown paper trade %s", platformTradeID)
	}
	if p.now().Before(pos.expiresAt) {
		return &Settlement{Settled: false}, nil
	}

	exit, err := p.lastPrice(ctx, pos.req.Asset)
	if err != nil {
		return nil, fmt.Errorf("paper settlement for %s: %w", pos.req.Asset, err)
	}

	outcome := outcomeFor(pos.req.Direction, pos.entry, exit)
	stake := decimal.NewFromFloat(pos.req.Stake)
	profit := decimal.Zero
	switch outcome {
	case types.OutcomeWin:
		profit = stake.Mul(decimal.NewFromFloat(p.payout))
	case types.OutcomeLoss:
		profit = stake.Neg()
	}

	p.mu.Lock()
	delete(p.positions, platformTradeID)
	p.mu.Unlock()

	profitF, _ := profit.Round(2).Float64()
	return &Settlement{Settled: true, ExitPrice: exit, Profit: profitF, Outcome: outcome}, nil
}

// OpenPositions is the number of unsettled paper trades
func (p *PaperBroker) OpenPositions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.positions)
}
