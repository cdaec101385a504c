package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/pipeline"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const (
	// DefaultDLQStream is the default dead letter stream name
	DefaultDLQStream = "sage:dlq"

	// DLQMaxLen is the approximate cap of the dead letter stream
	DLQMaxLen = 10000
)

// DeadLetterQueue stores dead-lettered records in a Redis stream
type DeadLetterQueue struct {
	client     *Client
	streamName string
	logger     ectologger.Logger
}

func NewDeadLetterQueue(client *Client, streamName string, logger ectologger.Logger) *DeadLetterQueue {
	if streamName == "" {
		streamName = DefaultDLQStream
	}
	return &DeadLetterQueue{
		client:     client,
		streamName: streamName,
		logger:     logger,
	}
}

// Add appends a dead letter to the stream
func (d *DeadLetterQueue) Add(ctx context.Context, letter pipeline.DeadLetter) error {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.Add")
	defer span.End()

	if letter.ID == "" {
		letter.ID = uuid.New().String()
	}
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	_, err = d.client.Redis().XAdd(ctx, &redis.XAddArgs{
		Stream: d.streamName,
		MaxLen: DLQMaxLen,
		Approx: true,
		Values: map[string]any{
			"data":      string(data),
			"record_id": letter.RecordID,
			"reason":    string(letter.Reason),
		},
	}).Result()
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("Failed to add record to DLQ")
		return mdmerror.Transient("failed to add to DLQ: %v", err)
	}

	d.logger.WithContext(ctx).Infof("Added record to DLQ: record=%s reason=%s", letter.RecordID, letter.Reason)
	return nil
}

// List returns the newest dead letters first
func (d *DeadLetterQueue) List(ctx context.Context, count int64) ([]pipeline.DeadLetter, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.List")
	defer span.End()

	if count <= 0 {
		count = 100
	}

	messages, err := d.client.Redis().XRevRangeN(ctx, d.streamName, "+", "-", count).Result()
	if err != nil {
		return nil, mdmerror.Transient("failed to read DLQ: %v", err)
	}

	letters := make([]pipeline.DeadLetter, 0, len(messages))
	for _, msg := range messages {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var letter pipeline.DeadLetter
		if err := json.Unmarshal([]byte(data), &letter); err != nil {
			d.logger.WithContext(ctx).WithError(err).Warnf("Failed to unmarshal DLQ entry: %s", msg.ID)
			continue
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

// Count returns the number of entries in the stream
func (d *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	return d.client.Redis().XLen(ctx, d.streamName).Result()
}
