package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	gwmw "deltavault/gateway/middleware"
	"deltavault/services/vaultgw/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	var hits atomic.Int32
	handler := WithIdempotency(setupTestDB(t), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if KeyFromContext(r.Context()) != "op-1" {
			t.Errorf("missing key in context")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"call":%d}`, n)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ops/rebalance", nil)
		req.Header.Set(HeaderIdempotencyKey, "op-1")
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("attempt %d: expected 202 got %d", i, rec.Code)
		}
		if rec.Body.String() != `{"call":1}` {
			t.Fatalf("attempt %d: unexpected body %s", i, rec.Body.String())
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", hits.Load())
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ops/withdraw", nil)
	req.Header.Set(HeaderIdempotencyKey, "op-1")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for reused key, got %d", rec.Code)
	}
}

func TestIdempotencySkipsServerErrors(t *testing.T) {
	var hits atomic.Int32
	handler := WithIdempotency(setupTestDB(t), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/ops/rebalance", nil)
		req.Header.Set(HeaderIdempotencyKey, "retry-me")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected server errors to be retried, got %d hits", hits.Load())
	}
}

func TestIdempotencyWithoutKeyPassesThrough(t *testing.T) {
	var hits atomic.Int32
	handler := WithIdempotency(setupTestDB(t), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ops/rebalance", nil))
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 hits, got %d", hits.Load())
	}
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	db := setupTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	var hits atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	handler := WithIdempotency(db, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"tx":"0x01"}`))
	}))

	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ops/deposit", nil)
		req.Header.Set(HeaderIdempotencyKey, "dup-1")
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- send() }()
	<-started

	inFlight := send()
	require.Equal(t, http.StatusConflict, inFlight.Code)
	require.Contains(t, inFlight.Body.String(), "still in progress")

	close(release)
	require.Equal(t, http.StatusOK, (<-first).Code)

	replayed := send()
	require.Equal(t, http.StatusOK, replayed.Code)
	require.Equal(t, "true", replayed.Header().Get("Idempotent-Replayed"))
	require.Equal(t, `{"tx":"0x01"}`, replayed.Body.String())
	require.EqualValues(t, 1, hits.Load())
}

func TestIdempotencyKeysAreScopedToSubject(t *testing.T) {
	var hits atomic.Int32
	handler := WithIdempotency(setupTestDB(t), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	for _, subject := range []string{"alice", "bob", "alice"} {
		req := httptest.NewRequest(http.MethodPost, "/ops/rebalance", nil)
		req = req.WithContext(gwmw.ContextWithSubject(req.Context(), subject))
		req.Header.Set(HeaderIdempotencyKey, "shared")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	require.EqualValues(t, 2, hits.Load())
}

func TestIdempotencyReleasesClaimOnPanic(t *testing.T) {
	db := setupTestDB(t)
	handler := WithIdempotency(db, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	req := httptest.NewRequest(http.MethodPost, "/ops/rebalance", nil)
	req.Header.Set(HeaderIdempotencyKey, "crash")
	require.Panics(t, func() { handler.ServeHTTP(httptest.NewRecorder(), req) })

	var count int64
	require.NoError(t, db.Model(&models.IdempotencyKey{}).Where("key = ?", "crash").Count(&count).Error)
	require.Zero(t, count)
}
