package platform

import (
	"context"
	"errors"
	"time"

	"github.com/fazecat/signalpilot/Internal/types"
)

// ErrDisconnected is returned by market data sources that lost their upstream
var ErrDisconnected = errors.New("market data source disconnected")

// MarketData supplies closed candles, oldest first
type MarketData interface {
	GetLatestCandles(ctx context.Context, asset string, timeframeMinutes, count int) ([]types.Candle, error)
	IsConnected() bool
	Reconnect(ctx context.Context) error
}

type ExecutionRequest struct {
	Asset     string
	Direction types.SignalType
	Stake     float64
	Expiry    time.Duration

	// last known price, used by platforms that size orders in units
	ReferencePrice float64
}

// Execution is the platform's confirmation of an opened trade
type Execution struct {
	PlatformTradeID string
	ConfirmedPrice  float64
	ConfirmedAt     time.Time
}

// Settlement reports the result of a trade; Settled false means ask again later
type Settlement struct {
	Settled   bool
	ExitPrice float64
	Profit    float64
	Outcome   types.TradeOutcome
}

type TradingPlatform interface {
	ExecuteTrade(ctx context.Context, req ExecutionRequest) (*Execution, error)
	GetOutcome(ctx context.Context, platformTradeID string) (*Settlement, error)
}

// PositionKeeper is implemented by platforms whose executed trades are open
// positions on the venue; such trades cannot be dropped before settlement
type PositionKeeper interface {
	KeepsPositions() bool
}

// outcomeFor decides a binary result from entry/exit prices
func outcomeFor(direction types.SignalType, entry, exit float64) types.TradeOutcome {
	switch {
	case exit == entry:
		return types.OutcomeDraw
	case direction == types.SignalCall && exit > entry:
		return types.OutcomeWin
	case direction == types.SignalPut && exit < entry:
		return types.OutcomeWin
	default:
		return types.OutcomeLoss
	}
}
