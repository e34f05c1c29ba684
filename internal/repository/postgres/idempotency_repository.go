package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/hotelbooker/bookingpay/internal/domain/idempotency"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IdempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

var _ idempotency.Store = (*IdempotencyRepository)(nil)

func (r *IdempotencyRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	rec := &idempotency.Record{}
	err := r.db(ctx).QueryRow(ctx,
		`SELECT key, request_hash, response_status, response_body, created_at, expires_at
		 FROM idempotency_keys WHERE key = $1 AND expires_at > NOW()`, key,
	).Scan(&rec.Key, &rec.RequestHash, &rec.ResponseStatus, &rec.ResponseBody, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return rec, nil
}

func (r *IdempotencyRepository) Set(ctx context.Context, rec *idempotency.Record) error {
	body := rec.ResponseBody
	if body == nil {
		body = []byte{}
	}
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO idempotency_keys (key, request_hash, response_status, response_body, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key) DO UPDATE SET
		     request_hash = EXCLUDED.request_hash,
		     response_status = EXCLUDED.response_status,
		     response_body = EXCLUDED.response_body,
		     expires_at = EXCLUDED.expires_at`,
		rec.Key, rec.RequestHash, rec.ResponseStatus, body, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

// Reserve inserts a pending row, taking over the key only when the row holding
// it has expired.
func (r *IdempotencyRepository) Reserve(ctx context.Context, rec *idempotency.Record) error {
	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO idempotency_keys (key, request_hash, response_status, response_body, created_at, expires_at)
		 VALUES ($1, $2, 0, ''::bytea, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET
		     request_hash = EXCLUDED.request_hash,
		     response_status = 0,
		     response_body = EXCLUDED.response_body,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at
		 WHERE idempotency_keys.expires_at <= NOW()`,
		rec.Key, rec.RequestHash, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("reserve idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrDuplicateIdempotencyKey
	}
	return nil
}

func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	_, err := r.db(ctx).Exec(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND response_status = 0`, key)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) Cleanup(ctx context.Context) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
