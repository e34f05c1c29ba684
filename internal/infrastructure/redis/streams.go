package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hotelbooker/bookingpay/internal/domain/webhook"
	"github.com/redis/go-redis/v9"
)

const (
	PaymentEventStream = "bookingpay:payment-events"
	DLQStream          = "bookingpay:payment-events:dlq"
)

// StreamProducer hands verified payment events to the booking side.
type StreamProducer struct {
	client *redis.Client
	maxLen int64
}

func NewStreamProducer(client *redis.Client) *StreamProducer {
	return &StreamProducer{client: client, maxLen: 100000}
}

func (p *StreamProducer) PublishWebhookEvent(ctx context.Context, e *webhook.Event) error {
	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: PaymentEventStream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: EventValues(e),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish payment event: %w", err)
	}
	return nil
}

func (p *StreamProducer) PublishToDLQ(ctx context.Context, messageID, reason string, values map[string]any) error {
	fields := map[string]any{
		"original_id": messageID,
		"reason":      reason,
		"timestamp":   time.Now().Unix(),
	}
	for k, v := range values {
		if _, taken := fields[k]; !taken {
			fields[k] = v
		}
	}

	if _, err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: DLQStream, Values: fields}).Result(); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}

// EventValues is the stream message layout for one ledger event.
func EventValues(e *webhook.Event) map[string]any {
	return map[string]any{
		"event_id":   e.ID.String(),
		"event_type": e.EventType,
		"order_id":   e.OrderID,
		"payment_id": e.PaymentID,
		"refund_id":  e.RefundID,
		"status":     e.Status,
		"amount":     strconv.FormatInt(e.Amount, 10),
		"currency":   e.Currency,
		"payload":    string(e.Payload),
		"timestamp":  e.ReceivedAt.Unix(),
	}
}

type StreamConsumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(client *redis.Client, stream, group, consumer string, batchSize int64, block time.Duration) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: block,
	}
}

func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read blocks for up to the configured duration. No messages is not an error.
func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}
