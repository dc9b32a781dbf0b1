package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel publishes alerts to a Kafka topic keyed by facility.
type KafkaChannel struct {
	writer messageWriter
}

// NewKafkaChannel constructs a channel writing to topic on brokers.
func NewKafkaChannel(brokers []string, topic string) (*KafkaChannel, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka channel: at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("kafka channel: topic is required")
	}
	return &KafkaChannel{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		// Retries are driven by the notification queue.
		MaxAttempts: 1,
	}}, nil
}

func newKafkaChannelWithWriter(writer messageWriter) *KafkaChannel {
	return &KafkaChannel{writer: writer}
}

// Name implements Channel.
func (k *KafkaChannel) Name() string { return alerts.ActionKafka }

// Send writes alert as JSON with the facility id as partition key.
func (k *KafkaChannel) Send(ctx context.Context, alert alerts.AlertRecord) error {
	if k == nil || k.writer == nil {
		return errors.New("kafka channel: nil writer")
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("kafka channel: encode alert: %w", err)
	}
	key := alert.FacilityID
	if key == "" {
		key = alert.SensorID
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "alert_id", Value: []byte(alert.ID)},
			{Key: "rule_id", Value: []byte(alert.RuleID)},
			{Key: "severity", Value: []byte(alert.Severity)},
		},
		Time: alert.TriggeredAt,
	})
}

// Close closes the underlying writer.
func (k *KafkaChannel) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
