package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/SpendPilot/internal/middleware"
)

// mockKV is an in-memory IdempotencyStore.
type mockKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockKV() *mockKV {
	return &mockKV{data: make(map[string][]byte)}
}

func (m *mockKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &mockEntry{key: key, value: v}, nil
}

func (m *mockKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return 1, nil
}

func (m *mockKV) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

type mockEntry struct {
	key   string
	value []byte
}

func (e *mockEntry) Bucket() string                  { return "test" }
func (e *mockEntry) Key() string                     { return e.key }
func (e *mockEntry) Value() []byte                   { return e.value }
func (e *mockEntry) Revision() uint64                { return 1 }
func (e *mockEntry) Created() time.Time              { return time.Time{} }
func (e *mockEntry) Delta() uint64                   { return 0 }
func (e *mockEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

func countingHandler(counter *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func post(h http.Handler, tenant, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", http.NoBody)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	req = req.WithContext(middleware.WithTenantID(req.Context(), tenant))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_NoHeader(t *testing.T) {
	counter := 0
	kv := newMockKV()
	h := middleware.Idempotency(kv)(countingHandler(&counter, http.StatusCreated))

	post(h, "t1", "")
	post(h, "t1", "")
	if counter != 2 || kv.len() != 0 {
		t.Fatalf("calls=%d stored=%d", counter, kv.len())
	}
}

func TestIdempotency_SecondRequestReplays(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMockKV())(countingHandler(&counter, http.StatusCreated))

	first := post(h, "t1", "key-2")
	second := post(h, "t1", "key-2")

	if counter != 1 {
		t.Fatalf("expected handler called once, got %d", counter)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay = %d %q", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay marker header")
	}
}

func TestIdempotency_ScopedPerTenant(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMockKV())(countingHandler(&counter, http.StatusCreated))

	post(h, "t1", "same-key")
	post(h, "t2", "same-key")
	if counter != 2 {
		t.Fatalf("same key in another tenant must not replay, calls=%d", counter)
	}
}

func TestIdempotency_ServerErrorsNotStored(t *testing.T) {
	counter := 0
	kv := newMockKV()
	h := middleware.Idempotency(kv)(countingHandler(&counter, http.StatusBadGateway))

	post(h, "t1", "retry-me")
	post(h, "t1", "retry-me")
	if counter != 2 || kv.len() != 0 {
		t.Fatalf("calls=%d stored=%d", counter, kv.len())
	}
}

func TestIdempotency_GETIgnored(t *testing.T) {
	counter := 0
	kv := newMockKV()
	h := middleware.Idempotency(kv)(countingHandler(&counter, http.StatusOK))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/learning/insights", http.NoBody)
	req.Header.Set("Idempotency-Key", "key-get")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if counter != 1 || kv.len() != 0 {
		t.Fatalf("calls=%d stored=%d", counter, kv.len())
	}
}
