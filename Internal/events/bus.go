package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Type string

const (
	SignalGenerated     Type = "signal_generated"
	TradeExecuted       Type = "trade_executed"
	TradeRejected       Type = "trade_rejected"
	TradeFailed         Type = "trade_failed"
	TradeClosed         Type = "trade_closed"
	Error               Type = "error"
	ReconnectionAttempt Type = "reconnection_attempt"
	PipelineStarted     Type = "pipeline_started"
	PipelineStopped     Type = "pipeline_stopped"
)

const DefaultHistorySize = 1000

type Event struct {
	Seq       uint64                 `json:"seq"`
	Type      Type                   `json:"type"`
	Asset     string                 `json:"asset,omitempty"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func (e Event) String() string {
	if e.Asset == "" {
		return fmt.Sprintf("#%d [%s] %s", e.Seq, e.Type, e.Message)
	}
	return fmt.Sprintf("#%d [%s] %s: %s", e.Seq, e.Type, e.Asset, e.Message)
}

// Subscriber must not block for long; it runs on the publisher's goroutine
type Subscriber func(Event)

// Bus keeps a bounded event history and delivers events to subscribers in publish order
type Bus struct {
	// serializes dispatch so every subscriber sees the same order
	dispatchMu sync.Mutex

	mu          sync.RWMutex
	seq         uint64
	history     []Event
	historySize int
	subscribers map[int]Subscriber
	nextID      int

	logger *logrus.Logger
	now    func() time.Time
}

func NewBus(historySize int, logger *logrus.Logger) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bus{
		historySize: historySize,
		subscribers: make(map[int]Subscriber),
		logger:      logger,
		now:         time.Now,
	}
}

// Subscribe registers fn and returns a func that removes it
func (b *Bus) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// Publish stamps the event, stores it and dispatches it synchronously
func (b *Bus) Publish(e Event) Event {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	b.mu.Lock()
	b.seq++
	e.Seq = b.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now().UTC()
	}
	b.history = append(b.history, e)
	if len(b.history) > b.historySize {
		b.history = append([]Event(nil), b.history[len(b.history)-b.historySize:]...)
	}
	ids := make([]int, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]Subscriber, len(ids))
	for i, id := range ids {
		subs[i] = b.subscribers[id]
	}
	b.mu.Unlock()

	for _, fn := range subs {
		b.deliver(fn, e)
	}
	return e
}

// Emit is a shorthand for Publish with the common fields
func (b *Bus) Emit(t Type, asset, message string, data map[string]interface{}) Event {
	return b.Publish(Event{Type: t, Asset: asset, Message: message, Data: data})
}

func (b *Bus) deliver(fn Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"seq":   e.Seq,
				"type":  e.Type,
				"panic": r,
			}).Error("Event subscriber panicked")
		}
	}()
	fn(e)
}

// History returns the newest events, oldest first; limit <= 0 returns all
func (b *Bus) History(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.history
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}
