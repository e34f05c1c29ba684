package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Record is a stored response for one Idempotency-Key. A record with no
// ResponseStatus is a reservation held by a request still in flight.
type Record struct {
	Key            string
	RequestHash    string
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r *Record) Pending() bool {
	return r.ResponseStatus == 0
}

// Matches reports whether a new request with the given hash is a true retry
// of the stored one.
func (r *Record) Matches(requestHash string) bool {
	return r.RequestHash == "" || r.RequestHash == requestHash
}

// HashRequest fingerprints a request by method, path and body.
func HashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type Store interface {
	// Get returns nil, nil when no live record exists for key.
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, record *Record) error
	// Reserve stores record as pending unless a live record holds its key, in
	// which case it returns ErrDuplicateIdempotencyKey.
	Reserve(ctx context.Context, record *Record) error
	// Release drops a pending reservation so the key can be retried.
	Release(ctx context.Context, key string) error
	// Cleanup deletes expired records and returns how many were removed.
	Cleanup(ctx context.Context) (int64, error)
}
