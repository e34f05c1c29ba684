package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/hotelbooker/bookingpay/internal/domain/webhook"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const webhookEventColumns = `id, provider_event_id, event_type, order_id, payment_id, refund_id, status,
	amount, currency, signature, payload, received_at, published_at, publish_attempts,
	order_status, reconciled_at`

type WebhookEventRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepository(pool *pgxpool.Pool) *WebhookEventRepository {
	return &WebhookEventRepository{pool: pool}
}

var _ webhook.Repository = (*WebhookEventRepository)(nil)

func (r *WebhookEventRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *WebhookEventRepository) Save(ctx context.Context, e *webhook.Event) error {
	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_events (id, provider_event_id, event_type, order_id, payment_id, refund_id, status,
		     amount, currency, signature, payload, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (signature) DO NOTHING`,
		e.ID, e.ProviderEventID, e.EventType, e.OrderID, e.PaymentID, e.RefundID, e.Status,
		e.Amount, e.Currency, e.Signature, []byte(e.Payload), e.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrDuplicateDelivery
	}
	return nil
}

func (r *WebhookEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Event, error) {
	row := r.db(ctx).QueryRow(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE id = $1`, id)
	e, err := scanWebhookEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEventNotFound
		}
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return e, nil
}

func (r *WebhookEventRepository) ListByOrder(ctx context.Context, orderID string) ([]*webhook.Event, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events
		 WHERE order_id = $1 ORDER BY received_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	return collectWebhookEvents(rows)
}

func (r *WebhookEventRepository) ListUnpublished(ctx context.Context, limit int) ([]*webhook.Event, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events
		 WHERE published_at IS NULL
		 ORDER BY received_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpublished webhook events: %w", err)
	}
	return collectWebhookEvents(rows)
}

func (r *WebhookEventRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE webhook_events SET published_at = $1, publish_attempts = publish_attempts + 1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("mark webhook event published: %w", err)
	}
	return nil
}

func (r *WebhookEventRepository) MarkPublishFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE webhook_events SET publish_attempts = publish_attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark webhook event publish failed: %w", err)
	}
	return nil
}

func (r *WebhookEventRepository) MarkReconciled(ctx context.Context, id uuid.UUID, orderStatus string, at time.Time) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE webhook_events SET order_status = $1, reconciled_at = $2 WHERE id = $3`, orderStatus, at, id)
	if err != nil {
		return fmt.Errorf("mark webhook event reconciled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrEventNotFound
	}
	return nil
}

func collectWebhookEvents(rows pgx.Rows) ([]*webhook.Event, error) {
	defer rows.Close()

	var events []*webhook.Event
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanWebhookEvent(row pgx.Row) (*webhook.Event, error) {
	e := &webhook.Event{}
	var payload []byte
	err := row.Scan(
		&e.ID, &e.ProviderEventID, &e.EventType, &e.OrderID, &e.PaymentID, &e.RefundID, &e.Status,
		&e.Amount, &e.Currency, &e.Signature, &payload, &e.ReceivedAt, &e.PublishedAt, &e.PublishAttempts,
		&e.OrderStatus, &e.ReconciledAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return e, nil
}
