package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/hotelbooker/bookingpay/internal/domain/idempotency"
	"github.com/rs/zerolog"
)

const (
	HeaderIdempotencyKey      = "Idempotency-Key"
	HeaderIdempotencyReplayed = "X-Idempotency-Replayed"

	maxIdempotencyBodySize = 1 << 20
	maxIdempotencyKeyLen   = 255

	// pendingLease bounds how long a crashed request can hold its key.
	pendingLease = 2 * time.Minute
)

// Idempotency replays the stored response for a repeated Idempotency-Key.
// The key is reserved while the first request runs; a concurrent retry gets
// 409. Reusing a key for a different request is rejected with 422. Server
// errors are not stored so the client may retry them.
func Idempotency(store idempotency.Store, ttl time.Duration, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				writeMiddlewareError(w, http.StatusBadRequest, "idempotency key too long", "invalid_idempotency_key")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBodySize+1))
			if err != nil {
				writeMiddlewareError(w, http.StatusBadRequest, "could not read request body", "invalid_body")
				return
			}
			if len(body) > maxIdempotencyBodySize {
				writeMiddlewareError(w, http.StatusRequestEntityTooLarge, "request body too large", "body_too_large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := idempotency.HashRequest(r.Method, r.URL.Path, body)

			ctx := r.Context()
			rec, err := store.Get(ctx, key)
			if err != nil {
				// Serve the request rather than fail it on a store outage.
				logger.Warn().Err(err).Msg("idempotency lookup failed")
			}
			if rec != nil {
				replay(w, rec, hash)
				return
			}

			now := time.Now()
			reserved := true
			err = store.Reserve(ctx, &idempotency.Record{
				Key:         key,
				RequestHash: hash,
				CreatedAt:   now,
				ExpiresAt:   now.Add(min(ttl, pendingLease)),
			})
			switch {
			case errors.Is(err, domainErrors.ErrDuplicateIdempotencyKey):
				writeMiddlewareError(w, http.StatusConflict,
					"a request with this idempotency key is already in progress", "duplicate_request")
				return
			case err != nil:
				logger.Warn().Err(err).Msg("idempotency reservation failed")
				reserved = false
			}

			recorder := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			stored := false
			defer func() {
				if reserved && !stored {
					if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
						logger.Error().Err(err).Msg("failed to release idempotency key")
					}
				}
			}()
			next.ServeHTTP(recorder, r)

			if recorder.statusCode >= http.StatusInternalServerError || recorder.truncated {
				return
			}
			now = time.Now()
			err = store.Set(ctx, &idempotency.Record{
				Key:            key,
				RequestHash:    hash,
				ResponseStatus: recorder.statusCode,
				ResponseBody:   recorder.body.Bytes(),
				CreatedAt:      now,
				ExpiresAt:      now.Add(ttl),
			})
			if err != nil {
				logger.Error().Err(err).Msg("failed to store idempotent response")
				return
			}
			stored = true
		})
	}
}

// replay answers from a record found for the key. A pending record means the
// first request has not finished yet.
func replay(w http.ResponseWriter, rec *idempotency.Record, hash string) {
	switch {
	case !rec.Matches(hash):
		writeMiddlewareError(w, http.StatusUnprocessableEntity,
			"idempotency key was already used for a different request", "idempotency_key_reused")
	case rec.Pending():
		writeMiddlewareError(w, http.StatusConflict,
			"a request with this idempotency key is already in progress", "duplicate_request")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(HeaderIdempotencyReplayed, "true")
		w.WriteHeader(rec.ResponseStatus)
		_, _ = w.Write(rec.ResponseBody)
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode  int
	body        *bytes.Buffer
	truncated   bool
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.statusCode = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	if !r.truncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.truncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}

func writeMiddlewareError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
