package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"authwatch/internal/model"
)

// MessageWriter is the part of kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher sends every finding of a scan to a topic, keyed by the
// finding key so one address or account stays on one partition.
type KafkaPublisher struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaPublisherWithWriter(w, logger)
}

func NewKafkaPublisherWithWriter(w MessageWriter, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) SaveScan(ctx context.Context, scan model.Scan) error {
	if len(scan.Findings) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(scan.Findings))
	for _, f := range scan.Findings {
		value, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode finding: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(f.Key),
			Value: value,
			Headers: []kafka.Header{
				{Key: "scan_id", Value: []byte(scan.ID)},
				{Key: "kind", Value: []byte(f.Kind)},
			},
			Time: scan.StartedAt,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	p.logger.Debug("findings published", "scan_id", scan.ID, "messages", len(msgs))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
