package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes link events
type Producer struct {
	writer messageWriter
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

var compressionCodecs = map[string]kafka.Compression{
	"":       kafka.Snappy,
	"snappy": kafka.Snappy,
	"gzip":   kafka.Gzip,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
	"none":   0,
}

// NewProducer builds a link event producer. Events are hash-partitioned by
// source record id; an unknown compression name falls back to snappy.
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression, ok := compressionCodecs[cfg.Compression]
	if !ok {
		logger.Warnf("Unknown Kafka compression %q; using snappy", cfg.Compression)
		compression = kafka.Snappy
	}

	return newProducer(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}, cfg.Topic, logger)
}

func newProducer(writer messageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// LinkEvent is published for every effective link change. Events for one
// source record share a partition key so consumers see them in order.
type LinkEvent struct {
	EventType     string    `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	LinkID        string    `json:"link_id"`
	SourceID      string    `json:"source_id"`
	GoldenID      string    `json:"golden_id"`
	ResourceType  string    `json:"resource_type"`
	MatchResult   string    `json:"match_result"`
	LinkSource    string    `json:"link_source"`
	Score         float64   `json:"score"`
	Version       int       `json:"version"`
	PreviousMatch string    `json:"previous_match_result,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// PublishLinkEvents publishes link events in one batch
func (p *Producer) PublishLinkEvents(ctx context.Context, events ...*LinkEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishLinkEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	traceParent, traceState := tracing.TraceContext(ctx)
	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		headers := []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "resource_type", Value: []byte(event.ResourceType)},
			{Key: "schema_version", Value: []byte(event.SchemaVersion)},
		}
		if traceParent != "" {
			headers = append(headers, kafka.Header{Key: HeaderTraceParent, Value: []byte(traceParent)})
		}
		if traceState != "" {
			headers = append(headers, kafka.Header{Key: HeaderTraceState, Value: []byte(traceState)})
		}

		messages[i] = kafka.Message{
			Key:     []byte(event.SourceID),
			Value:   data,
			Headers: headers,
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		metrics.KafkaMessagesPublished.WithLabelValues(p.topic, "failed").Add(float64(len(events)))
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish link events")
		return mdmerror.Transient("failed to publish %d link events: %v", len(events), err)
	}

	metrics.KafkaMessagesPublished.WithLabelValues(p.topic, "success").Add(float64(len(events)))
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published link events")

	return nil
}
