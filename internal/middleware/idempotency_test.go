package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cassiomorais/billingsync/internal/repository/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryResponseStore struct {
	mu      sync.Mutex
	entries map[string]*postgres.StoredResponse
	getErr  error
}

func newMemoryResponseStore() *memoryResponseStore {
	return &memoryResponseStore{entries: make(map[string]*postgres.StoredResponse)}
}

func (s *memoryResponseStore) Get(_ context.Context, key string) (*postgres.StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.entries[key], nil
}

func (s *memoryResponseStore) Save(_ context.Context, e *postgres.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Key]; !ok {
		s.entries[e.Key] = e
	}
	return nil
}

func countingHandler(calls *int, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	store := newMemoryResponseStore()
	calls := 0
	handler := Idempotency(store)(countingHandler(&calls, http.StatusOK, `{"ok":true}`))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/checkout/confirm", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, 2, calls)
	assert.Empty(t, store.entries)
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	store := newMemoryResponseStore()
	calls := 0
	handler := Idempotency(store)(countingHandler(&calls, http.StatusOK, `{"outcome":"processed"}`))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/checkout/confirm", nil)
		req.Header.Set("Idempotency-Key", "k1")
		req = req.WithContext(WithClaims(req.Context(), &Claims{CompanyID: "c1"}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	first := send()
	second := send()

	assert.Equal(t, 1, calls)
	assert.Empty(t, first.Header().Get("X-Idempotency-Replayed"))
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"outcome":"processed"}`, second.Body.String())
	require.Contains(t, store.entries, "c1:k1")
}

func TestIdempotency_KeysScopedByCompany(t *testing.T) {
	store := newMemoryResponseStore()
	calls := 0
	handler := Idempotency(store)(countingHandler(&calls, http.StatusOK, `{}`))

	for _, company := range []string{"c1", "c2"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Idempotency-Key", "same")
		req = req.WithContext(WithClaims(req.Context(), &Claims{CompanyID: company}))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, 2, calls)
	assert.Len(t, store.entries, 2)
}

func TestIdempotency_ServerErrorsNotStored(t *testing.T) {
	store := newMemoryResponseStore()
	calls := 0
	handler := Idempotency(store)(countingHandler(&calls, http.StatusServiceUnavailable, `{"code":"gateway_unavailable"}`))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Idempotency-Key", "k1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Empty(t, store.entries)
}

func TestIdempotency_LookupFailureRunsHandler(t *testing.T) {
	store := newMemoryResponseStore()
	store.getErr = errors.New("connection refused")
	calls := 0
	handler := Idempotency(store)(countingHandler(&calls, http.StatusOK, `{}`))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Idempotency-Key", "k1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
}

func TestResponseRecorder_LargeBodyNotStored(t *testing.T) {
	store := newMemoryResponseStore()
	large := bytes.Repeat([]byte("x"), maxIdempotencyBodySize+100)
	handler := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(large)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Idempotency-Key", "big")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, len(large), w.Body.Len(), "client still receives the full body")
	assert.Empty(t, store.entries)
}
