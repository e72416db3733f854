package events

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBus_OrderAndHistory(t *testing.T) {
	bus := NewBus(3, quietLogger())

	var got []uint64
	bus.Subscribe(func(e Event) { got = append(got, e.Seq) })

	for i := 0; i < 5; i++ {
		bus.Emit(SignalGenerated, "EURUSD", "signal", nil)
	}

	if len(got) != 5 {
		t.Fatalf("subscriber saw %d events, want 5", len(got))
	}
	for i, seq := range got {
		if seq != uint64(i+1) {
			t.Errorf("event %d has seq %d, want %d", i, seq, i+1)
		}
	}

	history := bus.History(0)
	if len(history) != 3 || history[0].Seq != 3 || history[2].Seq != 5 {
		t.Errorf("History(0) = %v, want seq 3..5", history)
	}
	if h := bus.History(1); len(h) != 1 || h[0].Seq != 5 {
		t.Errorf("History(1) = %v, want the newest event", h)
	}
	if history[0].Timestamp.IsZero() {
		t.Errorf("Publish() should stamp a timestamp")
	}
}

func TestBus_ConcurrentPublishersKeepOneOrder(t *testing.T) {
	bus := NewBus(1000, quietLogger())

	var mu sync.Mutex
	var a, b []uint64
	bus.Subscribe(func(e Event) { mu.Lock(); a = append(a, e.Seq); mu.Unlock() })
	bus.Subscribe(func(e Event) { mu.Lock(); b = append(b, e.Seq); mu.Unlock() })

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				bus.Emit(Error, "", "boom", nil)
			}
		}()
	}
	wg.Wait()

	if len(a) != 400 || len(b) != 400 {
		t.Fatalf("subscribers saw %d/%d events, want 400", len(a), len(b))
	}
	for i := range a {
		if a[i] != uint64(i+1) || b[i] != a[i] {
			t.Fatalf("delivery order diverged at %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestBus_PanickingSubscriberIsIsolated(t *testing.T) {
	bus := NewBus(10, quietLogger())
	bus.Subscribe(func(e Event) { panic("bad subscriber") })
	count := 0
	bus.Subscribe(func(e Event) { count++ })

	bus.Emit(TradeExecuted, "EURUSD", "ok", nil)
	bus.Emit(TradeClosed, "EURUSD", "ok", nil)
	if count != 2 {
		t.Errorf("healthy subscriber saw %d events, want 2", count)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10, quietLogger())
	count := 0
	var unsubscribe func()
	unsubscribe = bus.Subscribe(func(e Event) {
		count++
		unsubscribe()
	})

	bus.Emit(PipelineStarted, "", "started", nil)
	bus.Emit(PipelineStopped, "", "stopped", nil)
	unsubscribe()
	if count != 1 {
		t.Errorf("subscriber called %d times, want 1", count)
	}
	if bus.Len() != 2 {
		t.Errorf("Len() = %d, want 2", bus.Len())
	}
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []*kafka.Message
	err      error
	events   chan kafka.Event
}

func (f *fakeProducer) Produce(msg *kafka.Message, _ chan kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeProducer) Events() chan kafka.Event { return f.events }
func (f *fakeProducer) Flush(int) int            { return 0 }
func (f *fakeProducer) Close()                   { close(f.events) }

func TestKafkaSink_Handle(t *testing.T) {
	fp := &fakeProducer{events: make(chan kafka.Event, 1)}
	sink := newKafkaSink(fp, "test_events", quietLogger())

	bus := NewBus(10, quietLogger())
	bus.Subscribe(sink.Handle)
	bus.Emit(TradeExecuted, "EURUSD", "executed", map[string]interface{}{"stake": 10.0})
	bus.Emit(PipelineStopped, "", "stopped", nil)

	fp.err = errors.New("queue full")
	bus.Emit(Error, "GBPUSD", "dropped", nil)
	sink.Close()

	if len(fp.messages) != 2 {
		t.Fatalf("produced %d messages, want 2", len(fp.messages))
	}
	first := fp.messages[0]
	if *first.TopicPartition.Topic != "test_events" || string(first.Key) != "EURUSD" {
		t.Errorf("message = topic %s key %s", *first.TopicPartition.Topic, first.Key)
	}
	var decoded Event
	if err := json.Unmarshal(first.Value, &decoded); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if decoded.Type != TradeExecuted || decoded.Seq != 1 || decoded.Data["stake"] != 10.0 {
		t.Errorf("decoded event = %+v", decoded)
	}
	if fp.messages[1].Key != nil {
		t.Errorf("events without an asset should have no key")
	}
}
