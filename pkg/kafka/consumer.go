package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const (
	handlerInitialBackoff = 100 * time.Millisecond
	handlerMaxBackoff     = 5 * time.Second
	commitTimeout         = 5 * time.Second
)

// MessageHandler processes an incoming message. done marks the message as
// finished and may be called after the handler returns, at most once.
// A bad request error marks the message as finished immediately; any other
// error makes the consumer retry the handler.
type MessageHandler func(ctx context.Context, msg *IncomingMessage, done func(ctx context.Context)) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// Consumer reads record-change messages and hands them to a handler.
// Offsets are committed per partition only up to the last contiguous
// finished message, so a record still in flight is never skipped on restart.
type Consumer struct {
	reader  messageReader
	topic   string
	logger  ectologger.Logger
	handler MessageHandler
	offsets *offsetTracker
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	running      atomic.Bool
	fetchFailing atomic.Bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})

	return newConsumer(reader, cfg.Topic, logger, handler)
}

func newConsumer(reader messageReader, topic string, logger ectologger.Logger, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  reader,
		topic:   topic,
		logger:  logger,
		handler: handler,
		offsets: newOffsetTracker(),
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.running.Store(true)
	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithField("topic", c.topic).Info("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

// Pending returns the number of fetched messages not yet committed
func (c *Consumer) Pending() int {
	return c.offsets.pending()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.running.Store(false)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.WithContext(ctx).Info("Consumer loop stopping")
				return
			}
			c.fetchFailing.Store(true)
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
			if !sleep(ctx, handlerInitialBackoff) {
				return
			}
			continue
		}
		c.fetchFailing.Store(false)

		c.offsets.track(msg)
		c.processMessage(ctx, msg)
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	incoming := newIncomingMessage(msg)
	ctx = tracing.WithRemoteParent(ctx, incoming.TraceParent, incoming.TraceState)
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var once sync.Once
	done := func(ctx context.Context) {
		once.Do(func() { c.complete(ctx, msg) })
	}

	backoff := handlerInitialBackoff
	for {
		err := c.handler(ctx, incoming, done)
		if err == nil {
			metrics.KafkaMessagesConsumed.WithLabelValues(msg.Topic, "accepted").Inc()
			return
		}

		if mdmerror.IsBadRequest(err) {
			// Still commit to avoid getting stuck
			log.WithError(err).Warn("Rejected malformed message")
			metrics.KafkaMessagesConsumed.WithLabelValues(msg.Topic, "rejected").Inc()
			done(ctx)
			return
		}

		log.WithError(err).WithField("retry_in", backoff.String()).Error("Failed to process message (not committing)")
		metrics.KafkaMessagesConsumed.WithLabelValues(msg.Topic, "failed").Inc()
		if !sleep(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, handlerMaxBackoff)
	}
}

// complete marks a message finished and commits whatever contiguous prefix
// of its partition that releases
func (c *Consumer) complete(ctx context.Context, msg kafka.Message) {
	commit, ok := c.offsets.complete(msg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := c.reader.CommitMessages(ctx, commit); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"partition": commit.Partition,
			"offset":    commit.Offset,
		}).Error("Failed to commit message")
	}
}

// Health reports whether the consume loop is running and its most recent
// fetch succeeded
func (c *Consumer) Health() bool {
	return c.running.Load() && !c.fetchFailing.Load()
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// offsetTracker remembers fetched messages per partition in fetch order
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	inflight []kafka.Message
	done     map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) track(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[msg.Partition]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]bool)}
		t.partitions[msg.Partition] = p
	}
	p.inflight = append(p.inflight, msg)
}

// complete marks msg finished and returns the highest message of its
// partition whose predecessors are all finished
func (t *offsetTracker) complete(msg kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[msg.Partition]
	if !ok {
		return kafka.Message{}, false
	}
	p.done[msg.Offset] = true

	var last kafka.Message
	released := false
	for len(p.inflight) > 0 && p.done[p.inflight[0].Offset] {
		last = p.inflight[0]
		delete(p.done, last.Offset)
		p.inflight = p.inflight[1:]
		released = true
	}
	return last, released
}

func (t *offsetTracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, p := range t.partitions {
		n += len(p.inflight)
	}
	return n
}
