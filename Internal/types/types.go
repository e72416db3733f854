package types

import (
	"fmt"
	"math"
	"time"
)

// one closed OHLC bar for an asset/timeframe
type Candle struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

// Validate checks low <= min(open,close) <= max(open,close) <= high
func (c Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return fmt.Errorf("candle has no timestamp")
	}
	bodyLow := math.Min(c.Open, c.Close)
	bodyHigh := math.Max(c.Open, c.Close)
	if c.Low > bodyLow || bodyHigh > c.High {
		return fmt.Errorf("candle %s violates OHLC ordering (o=%.5f h=%.5f l=%.5f c=%.5f)",
			c.Timestamp.UTC().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle %s has negative volume", c.Timestamp.UTC().Format(time.RFC3339))
	}
	return nil
}

type Tick struct {
	Asset     string
	Timestamp time.Time
	Price     float64
}

type SignalType string

const (
	SignalCall SignalType = "CALL"
	SignalPut  SignalType = "PUT"
	SignalHold SignalType = "HOLD"
)

// TradingSignal is produced once by the signal engine and never mutated afterwards
type TradingSignal struct {
	Asset         string             `json:"asset"`
	SignalType    SignalType         `json:"signal_type"`
	Strength      float64            `json:"strength"`
	Confidence    float64            `json:"confidence"`
	Price         float64            `json:"price"`
	Timestamp     time.Time          `json:"timestamp"`
	Indicators    map[string]float64 `json:"indicators"`
	Reasoning     []string           `json:"reasoning"`
	ExpiryMinutes int                `json:"expiry_minutes"`
}

func (s *TradingSignal) String() string {
	return fmt.Sprintf("%s %s strength=%.2f confidence=%.2f @ %.5f",
		s.Asset, s.SignalType, s.Strength, s.Confidence, s.Price)
}

type TradeStatus string

const (
	TradePending   TradeStatus = "PENDING"
	TradeExecuted  TradeStatus = "EXECUTED"
	TradeClosed    TradeStatus = "CLOSED"
	TradeFailed    TradeStatus = "FAILED"
	TradeCancelled TradeStatus = "CANCELLED"
)

// IsActive reports whether the trade still counts against concurrency limits
func (s TradeStatus) IsActive() bool {
	return s == TradePending || s == TradeExecuted
}

// IsTerminal reports whether no further transitions are possible
func (s TradeStatus) IsTerminal() bool {
	return s == TradeClosed || s == TradeFailed || s == TradeCancelled
}

type TradeOutcome string

const (
	OutcomeNone TradeOutcome = ""
	OutcomeWin  TradeOutcome = "WIN"
	OutcomeLoss TradeOutcome = "LOSS"
	OutcomeDraw TradeOutcome = "DRAW"
)

// AutoTrade is owned by the automated trader for its whole lifetime
type AutoTrade struct {
	ID              string       `json:"trade_id"`
	PlatformTradeID string       `json:"platform_trade_id,omitempty"`
	Asset           string       `json:"asset"`
	Direction       SignalType   `json:"direction"`
	Amount          float64      `json:"amount"`
	SignalStrength  float64      `json:"signal_strength"`
	EntryTime       time.Time    `json:"entry_time"`
	ExpiryTime      time.Time    `json:"expiry_time"`
	EntryPrice      float64      `json:"entry_price"`
	ExitPrice       float64      `json:"exit_price,omitempty"`
	Profit          float64      `json:"profit"`
	Outcome         TradeOutcome `json:"outcome,omitempty"`
	Status          TradeStatus  `json:"status"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	ClosedAt        time.Time    `json:"closed_at,omitempty"`
}

// Clone returns a copy safe to hand to readers outside the trader
func (t *AutoTrade) Clone() *AutoTrade {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
