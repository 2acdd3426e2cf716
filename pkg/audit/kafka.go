package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"mcpgateway/pkg/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes records as JSON keyed by user so a consumer sees
// one user's decisions in order.
type KafkaSink struct {
	writer messageWriter
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic required")
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}}, nil
}

func (s *KafkaSink) Write(ctx context.Context, rec models.AuditRecord) error {
	if s == nil || s.writer == nil {
		return errors.New("kafka sink not initialized")
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.UserID),
		Value: value,
		Time:  rec.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(rec.Action)},
			{Key: "outcome", Value: []byte(rec.Outcome)},
		},
	})
}

func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
