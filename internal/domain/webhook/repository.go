package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Save inserts the event. It returns errors.ErrDuplicateDelivery when an
	// event with the same signature is already recorded.
	Save(ctx context.Context, event *Event) error

	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)

	// ListByOrder returns the events of one order, oldest first.
	ListByOrder(ctx context.Context, orderID string) ([]*Event, error)

	// ListUnpublished returns events not yet handed to the stream, locking
	// them for the surrounding transaction.
	ListUnpublished(ctx context.Context, limit int) ([]*Event, error)

	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkPublishFailed counts a failed hand-off.
	MarkPublishFailed(ctx context.Context, id uuid.UUID) error

	MarkReconciled(ctx context.Context, id uuid.UUID, orderStatus string, at time.Time) error
}
