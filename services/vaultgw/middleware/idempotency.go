// Package middleware holds vaultgw specific HTTP middleware.
package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	gwmw "deltavault/gateway/middleware"
	"deltavault/services/vaultgw/models"
)

// HeaderIdempotencyKey carries the client supplied idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxKeyLength = 128

type contextKey string

const contextKeyIdempotency contextKey = "idempotency-key"

// KeyFromContext returns the idempotency key attached to the request, if any.
func KeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(contextKeyIdempotency).(string)
	return key
}

// WithIdempotency replays the stored response for a previously seen key.
// Keys are scoped to the authenticated subject. The key is claimed before the
// handler runs, so a concurrent request with the same key gets 409 instead of
// running twice. Server errors release the claim so the client can retry.
func WithIdempotency(db *gorm.DB, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
			if key == "" || db == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				writeJSONError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}

			subject := gwmw.SubjectFromContext(r.Context())
			claim := models.IdempotencyKey{
				Subject:   subject,
				Key:       key,
				RequestID: uuid.NewString(),
				Method:    r.Method,
				Path:      r.URL.Path,
				CreatedAt: time.Now().UTC(),
			}
			res := db.WithContext(r.Context()).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&claim)
			if res.Error != nil {
				logger.Error("idempotency: claim failed", "key", key, "error", res.Error)
				writeJSONError(w, http.StatusInternalServerError, "idempotency lookup failed")
				return
			}
			if res.RowsAffected == 0 {
				replay(w, r, db, logger, subject, key)
				return
			}

			bg := context.WithoutCancel(r.Context())
			store := func() *gorm.DB {
				return db.WithContext(bg).
					Model(&models.IdempotencyKey{}).
					Where("subject = ? AND key = ?", subject, key)
			}
			done := false
			defer func() {
				if done {
					return
				}
				if err := store().Delete(&models.IdempotencyKey{}).Error; err != nil {
					logger.Error("idempotency: release failed", "key", key, "error", err)
				}
			}()

			recorder := &responseRecorder{ResponseWriter: w}
			ctx := context.WithValue(r.Context(), contextKeyIdempotency, key)
			next.ServeHTTP(recorder, r.WithContext(ctx))

			status := recorder.status
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				return
			}
			err := store().Updates(map[string]any{
				"status":     status,
				"response":   recorder.buf.String(),
				"updated_at": time.Now().UTC(),
			}).Error
			if err != nil {
				logger.Error("idempotency: store response failed", "key", key, "status", status, "error", err)
				return
			}
			done = true
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, db *gorm.DB, logger *slog.Logger, subject, key string) {
	var record models.IdempotencyKey
	err := db.WithContext(r.Context()).
		Where("subject = ? AND key = ?", subject, key).
		First(&record).Error
	if err != nil {
		logger.Error("idempotency: lookup failed", "key", key, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "idempotency lookup failed")
		return
	}
	switch {
	case record.Method != r.Method || record.Path != r.URL.Path:
		writeJSONError(w, http.StatusUnprocessableEntity, "idempotency key reused for a different request")
	case record.Status == 0:
		writeJSONError(w, http.StatusConflict, "request with this idempotency key is still in progress")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write([]byte(record.Response))
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}

type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	if rr.status == 0 {
		rr.status = status
	}
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
