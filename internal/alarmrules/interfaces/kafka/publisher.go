package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	application "devicehub/internal/alarmrules/application"
)

// Publisher forwards alarm lifecycle events to a Kafka topic, keyed by device
// id so one device's events stay ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
	logger *log.Logger
}

// NewPublisher constructs a publisher.
func NewPublisher(brokers []string, topic string, logger *log.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: no brokers")
	}
	if topic == "" {
		return nil, errors.New("kafka publisher: empty topic")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &Publisher{writer: writer, logger: logger}, nil
}

// Notify implements application.Notifier. Delivery failures are logged and
// dropped; alarm evaluation never blocks on the broker.
func (p *Publisher) Notify(ctx context.Context, event application.LifecycleEvent) {
	if p == nil || p.writer == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("kafka publish encode error: %v", err)
		}
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.Alarm.DeviceID),
		Value: payload,
	})
	if err != nil && p.logger != nil {
		p.logger.Printf("kafka publish error: %v", err)
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
