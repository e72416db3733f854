package pipeline

import (
	"sync/atomic"
	"time"
)

// Metrics are owned by one pipeline and reset on every Start
type Metrics struct {
	signalsGenerated     atomic.Int64
	tradesExecuted       atomic.Int64
	tradesRejected       atomic.Int64
	tradesFailed         atomic.Int64
	tradesClosed         atomic.Int64
	errors               atomic.Int64
	reconnectionAttempts atomic.Int64
	cyclesCompleted      atomic.Int64
	lastCycleAt          atomic.Int64
}

type MetricsSnapshot struct {
	SignalsGenerated     int64     `json:"signals_generated"`
	TradesExecuted       int64     `json:"trades_executed"`
	TradesRejected       int64     `json:"trades_rejected"`
	TradesFailed         int64     `json:"trades_failed"`
	TradesClosed         int64     `json:"trades_closed"`
	Errors               int64     `json:"errors"`
	ReconnectionAttempts int64     `json:"reconnection_attempts"`
	CyclesCompleted      int64     `json:"cycles_completed"`
	LastCycleAt          time.Time `json:"last_cycle_at,omitempty"`
}

func (m *Metrics) reset() {
	m.signalsGenerated.Store(0)
	m.tradesExecuted.Store(0)
	m.tradesRejected.Store(0)
	m.tradesFailed.Store(0)
	m.tradesClosed.Store(0)
	m.errors.Store(0)
	m.reconnectionAttempts.Store(0)
	m.cyclesCompleted.Store(0)
	m.lastCycleAt.Store(0)
}

func (m *Metrics) cycleDone(at time.Time) {
	m.cyclesCompleted.Add(1)
	m.lastCycleAt.Store(at.UnixNano())
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		SignalsGenerated:     m.signalsGenerated.Load(),
		TradesExecuted:       m.tradesExecuted.Load(),
		TradesRejected:       m.tradesRejected.Load(),
		TradesFailed:         m.tradesFailed.Load(),
		TradesClosed:         m.tradesClosed.Load(),
		Errors:               m.errors.Load(),
		ReconnectionAttempts: m.reconnectionAttempts.Load(),
		CyclesCompleted:      m.cyclesCompleted.Load(),
	}
	if ns := m.lastCycleAt.Load(); ns != 0 {
		s.LastCycleAt = time.Unix(0, ns).UTC()
	}
	return s
}
