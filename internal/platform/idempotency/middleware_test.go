package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/orderops/internal/platform/requestctx"
)

const batchBody = `{"orderIds":["ord_1","ord_2"],"operation":"bulk_archive"}`

type countingHandler struct {
	calls  int
	status func(call int) int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls++
	status := http.StatusOK
	if h.status != nil {
		status = h.status(h.calls)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"call":%d}`, h.calls)
}

func batchRequest(key, body, actor string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/orders:batch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if actor != "" {
		req = req.WithContext(requestctx.WithActor(req.Context(), actor))
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error
}

func TestMiddleware_ReplaysFirstResponse(t *testing.T) {
	next := &countingHandler{}
	h := Middleware(NewMemoryStore(nil))(next)

	first := serve(h, batchRequest("k-1", batchBody, "ops@example.com"))
	second := serve(h, batchRequest("k-1", batchBody, "ops@example.com"))

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(replayHeader))
	assert.Empty(t, first.Header().Get(replayHeader))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestMiddleware_KeyReusedWithDifferentBody(t *testing.T) {
	h := Middleware(NewMemoryStore(nil))(&countingHandler{})

	serve(h, batchRequest("k-1", batchBody, "ops@example.com"))
	rr := serve(h, batchRequest("k-1", `{"orderIds":["ord_9"],"operation":"bulk_archive"}`, "ops@example.com"))

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "idempotency_key_conflict", errorCode(t, rr))
}

func TestMiddleware_InFlightKey(t *testing.T) {
	store := NewMemoryStore(nil)
	h := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nested := serve(Middleware(store)(&countingHandler{}), batchRequest("k-1", batchBody, "ops@example.com"))
		w.WriteHeader(nested.Code)
	}))

	rr := serve(h, batchRequest("k-1", batchBody, "ops@example.com"))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestMiddleware_KeysAreScopedPerActor(t *testing.T) {
	next := &countingHandler{}
	h := Middleware(NewMemoryStore(nil))(next)

	serve(h, batchRequest("shared", batchBody, "staff-1@example.com"))
	serve(h, batchRequest("shared", batchBody, "staff-2@example.com"))

	assert.Equal(t, 2, next.calls)
}

func TestMiddleware_ServerErrorsAreRetryable(t *testing.T) {
	next := &countingHandler{status: func(call int) int {
		if call == 1 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	}}
	h := Middleware(NewMemoryStore(nil))(next)

	assert.Equal(t, http.StatusServiceUnavailable, serve(h, batchRequest("k-1", batchBody, "")).Code)
	assert.Equal(t, http.StatusOK, serve(h, batchRequest("k-1", batchBody, "")).Code)
	assert.Equal(t, 2, next.calls)
}

func TestMiddleware_KeyHandling(t *testing.T) {
	tests := []struct {
		name       string
		opts       []MiddlewareOption
		key        string
		body       string
		method     string
		wantStatus int
		wantCode   string
		wantCalls  int
	}{
		{name: "no key passes through", wantStatus: http.StatusOK, wantCalls: 1},
		{name: "no key when required", opts: []MiddlewareOption{WithRequiredKey()}, wantStatus: http.StatusBadRequest, wantCode: "idempotency_key_required"},
		{name: "key too long", key: strings.Repeat("k", maxKeyLength+1), wantStatus: http.StatusBadRequest, wantCode: "idempotency_key_invalid"},
		{name: "body too large", opts: []MiddlewareOption{WithMaxBodyBytes(8)}, key: "k", wantStatus: http.StatusRequestEntityTooLarge, wantCode: "payload_too_large"},
		{name: "unguarded method", opts: []MiddlewareOption{WithMethods("post")}, method: http.MethodPatch, key: "k", wantStatus: http.StatusOK, wantCalls: 1},
		{name: "custom header ignored default", opts: []MiddlewareOption{WithHeader("X-Request-Key"), WithRequiredKey()}, key: "k", wantStatus: http.StatusBadRequest, wantCode: "idempotency_key_required"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next := &countingHandler{}
			body := tc.body
			if body == "" {
				body = batchBody
			}
			req := batchRequest(tc.key, body, "")
			if tc.method != "" {
				req.Method = tc.method
			}

			rr := serve(Middleware(NewMemoryStore(nil), tc.opts...)(next), req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Equal(t, tc.wantCalls, next.calls)
			if tc.wantCode != "" {
				assert.Equal(t, tc.wantCode, errorCode(t, rr))
			}
		})
	}
}

type failingStore struct {
	beginErr  error
	finishErr error
	aborted   bool
}

func (s *failingStore) Begin(context.Context, string, string, time.Duration) (Entry, Outcome, error) {
	return Entry{}, Fresh, s.beginErr
}

func (s *failingStore) Finish(context.Context, string, string, Captured, time.Duration) error {
	return s.finishErr
}

func (s *failingStore) Abort(context.Context, string, string) error {
	s.aborted = true
	return nil
}

func (s *failingStore) Sweep(context.Context, int) (int, error) { return 0, nil }

func TestMiddleware_StoreFailures(t *testing.T) {
	t.Run("begin unavailable", func(t *testing.T) {
		next := &countingHandler{}
		rr := serve(Middleware(&failingStore{beginErr: errors.New("redis down")})(next), batchRequest("k", batchBody, ""))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "idempotency_unavailable", errorCode(t, rr))
		assert.Zero(t, next.calls)
	})

	t.Run("finish failure still delivers response", func(t *testing.T) {
		store := &failingStore{finishErr: errors.New("write failed")}
		next := &countingHandler{}
		rr := serve(Middleware(store)(next), batchRequest("k", batchBody, ""))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 1, next.calls)
		assert.True(t, store.aborted)
	})
}

func TestMemoryStore_ExpiryAndSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })

	_, outcome, err := store.Begin(ctx, "a", "fp-a", time.Minute)
	require.NoError(t, err)
	require.Equal(t, Fresh, outcome)
	require.NoError(t, store.Finish(ctx, "b", "fp-b", Captured{Status: http.StatusOK, Header: http.Header{"Date": {"x"}, "X-Export-Rows": {"3"}}}, time.Hour))

	assert.ErrorIs(t, store.Abort(ctx, "b", "other"), ErrKeyReused)

	entry, outcome, err := store.Begin(ctx, "b", "fp-b", time.Hour)
	require.NoError(t, err)
	require.Equal(t, Replay, outcome)
	assert.Equal(t, "3", entry.Response.Header.Get("X-Export-Rows"))
	assert.Empty(t, entry.Response.Header.Get("Date"))

	now = now.Add(2 * time.Minute)
	removed, err := store.Sweep(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, outcome, err = store.Begin(ctx, "a", "fp-other", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Fresh, outcome)
}
