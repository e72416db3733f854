package events

import (
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

const (
	DefaultKafkaTopic = "signalpilot_events"
	flushTimeoutMs    = 5000
)

// producer is the subset of *kafka.Producer the sink needs
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// KafkaSink forwards bus events to a Kafka topic, keyed by asset
type KafkaSink struct {
	producer producer
	topic    string
	logger   *logrus.Logger
	done     chan struct{}
}

func NewKafkaSink(broker, topic string, logger *logrus.Logger) (*KafkaSink, error) {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	config := kafka.ConfigMap{
		"bootstrap.servers": broker,
		"client.id":         "signalpilot",
	}

	p, err := kafka.NewProducer(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	logger.WithField("broker", broker).Info("Kafka Producer initialized successfully")
	return newKafkaSink(p, topic, logger), nil
}

func newKafkaSink(p producer, topic string, logger *logrus.Logger) *KafkaSink {
	s := &KafkaSink{
		producer: p,
		topic:    topic,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go s.deliveryReports()
	return s
}

// Check Events channel of kafka and log failed deliveries
func (s *KafkaSink) deliveryReports() {
	defer close(s.done)
	for e := range s.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				s.logger.Errorf("Event delivery failed: %v", ev.TopicPartition.Error)
			}
		case kafka.Error:
			s.logger.Errorf("Kafka error: %v", ev)
		}
	}
}

// Handle is a bus Subscriber
func (s *KafkaSink) Handle(e Event) {
	value, err := json.Marshal(e)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode event")
		return
	}
	topic := s.topic
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          value,
		Timestamp:      e.Timestamp,
	}
	if e.Asset != "" {
		msg.Key = []byte(e.Asset)
	}
	if err := s.producer.Produce(msg, nil); err != nil {
		s.logger.WithFields(logrus.Fields{
			"seq":   e.Seq,
			"error": err,
		}).Warn("Failed to enqueue event for Kafka")
	}
}

// Close flushes outstanding messages and waits for the delivery goroutine
func (s *KafkaSink) Close() {
	if left := s.producer.Flush(flushTimeoutMs); left > 0 {
		s.logger.Warnf("%d events not delivered before shutdown", left)
	}
	s.producer.Close()
	<-s.done
	s.logger.Info("Kafka Producer closed")
}
