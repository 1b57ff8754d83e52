package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"authwatch/internal/model"
)

// KafkaSource describes a bounded read of normalized events from a topic.
// The read ends after MaxMessages messages or once no message arrived for
// IdleTimeout, so the result is still a complete batch.
type KafkaSource struct {
	Brokers     []string
	Topic       string
	GroupID     string
	MaxMessages int
	IdleTimeout time.Duration
}

func ReadKafka(ctx context.Context, src KafkaSource, opts Options, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if len(src.Brokers) == 0 || src.Topic == "" {
		return Result{}, errors.New("kafka source requires brokers and topic")
	}
	if src.IdleTimeout <= 0 {
		src.IdleTimeout = 5 * time.Second
	}
	logger.Info("kafka batch read", "brokers", src.Brokers, "topic", src.Topic, "group_id", src.GroupID, "max", src.MaxMessages)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  src.Brokers,
		Topic:    src.Topic,
		GroupID:  src.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	var res Result
	parser := NewParser()
	norm := opts.normalize(model.OriginImport)
	for src.MaxMessages <= 0 || res.Records < src.MaxMessages {
		readCtx, cancel := context.WithTimeout(ctx, src.IdleTimeout)
		m, err := reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return res, fmt.Errorf("kafka read: %w", err)
		}
		res.Records++
		fields, err := parser.ParseLine(string(m.Value))
		if err != nil || fields == nil {
			res.Invalid++
			logger.Warn("unparsable kafka message", "partition", m.Partition, "offset", m.Offset, "err", err)
			continue
		}
		res.add(fields, norm, logger)
	}
	logger.Info("kafka batch complete", "records", res.Records, "events", len(res.Events), "invalid", res.Invalid)
	return res, nil
}
