package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
)

type fakeReplayStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeReplayStore() *fakeReplayStore {
	return &fakeReplayStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeReplayStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeReplayStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key] = fmt.Sprint(value)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeReplayStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	return true, f.Set(ctx, key, value, ttl)
}

func (f *fakeReplayStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeReplayStore) IdempotencyKey(scope, id string) string {
	return "test:" + scope + ":" + id
}

func keyedRequest(method, path, body, key string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req
}

func acceptRequest(body, key string) *http.Request {
	return keyedRequest(http.MethodPost, "/api/v1/conversations/accept", body, key)
}

func countingHandler(calls *int, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	store := newFakeReplayStore()
	var calls int
	handler := Idempotency(store, ReplayTTL, nil)(countingHandler(&calls, http.StatusAccepted, `{"ok":true}`))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, acceptRequest(`{"conversation_id":"c1"}`, "abc"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, acceptRequest(`{"conversation_id":"c1"}`, "abc"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, `{"ok":true}`, second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, "true", second.Header().Get(replayedHeader))
	assert.Empty(t, first.Header().Get(replayedHeader))

	for _, ttl := range store.ttls {
		assert.Equal(t, ReplayTTL, ttl)
	}
}

func TestIdempotencyKeepsRecordForConfiguredWindow(t *testing.T) {
	store := newFakeReplayStore()
	var calls int
	handler := Idempotency(store, TerminalReplayTTL, nil)(countingHandler(&calls, http.StatusOK, `{}`))

	handler.ServeHTTP(httptest.NewRecorder(), keyedRequest(http.MethodPost, "/api/v1/conversations/c1/close", `{}`, "close-1"))

	require.Len(t, store.ttls, 1)
	for _, ttl := range store.ttls {
		assert.Equal(t, TerminalReplayTTL, ttl)
	}
}

func TestIdempotencyDefaultsWindow(t *testing.T) {
	store := newFakeReplayStore()
	var calls int
	handler := Idempotency(store, 0, nil)(countingHandler(&calls, http.StatusOK, `{}`))

	handler.ServeHTTP(httptest.NewRecorder(), acceptRequest(`{}`, "k"))

	require.Len(t, store.ttls, 1)
	for _, ttl := range store.ttls {
		assert.Equal(t, ReplayTTL, ttl)
	}
}

func TestIdempotencyPassThrough(t *testing.T) {
	cases := map[string]*http.Request{
		"no key": acceptRequest(`{}`, ""),
		"get":    keyedRequest(http.MethodGet, "/api/v1/conversations/c1/assignments", ``, "k"),
		"head":   keyedRequest(http.MethodHead, "/api/v1/conversations/c1/assignments", ``, "k"),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			store := newFakeReplayStore()
			var calls int
			handler := Idempotency(store, ReplayTTL, nil)(countingHandler(&calls, http.StatusOK, `{}`))
			handler.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, 1, calls)
			assert.Empty(t, store.data)
		})
	}
}

func TestIdempotencyReleasesAfterServerError(t *testing.T) {
	store := newFakeReplayStore()
	var calls int
	handler := Idempotency(store, ReplayTTL, nil)(countingHandler(&calls, http.StatusServiceUnavailable, `{}`))

	handler.ServeHTTP(httptest.NewRecorder(), acceptRequest(`{}`, "retry-me"))
	handler.ServeHTTP(httptest.NewRecorder(), acceptRequest(`{}`, "retry-me"))

	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}

func TestIdempotencyRejectsChangedBody(t *testing.T) {
	store := newFakeReplayStore()
	var calls int
	handler := Idempotency(store, ReplayTTL, nil)(countingHandler(&calls, http.StatusOK, `{}`))

	handler.ServeHTTP(httptest.NewRecorder(), acceptRequest(`{"conversation_id":"a"}`, "xyz"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, acceptRequest(`{"conversation_id":"b"}`, "xyz"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeReplayStore()
	var inner, outer int
	var nested *httptest.ResponseRecorder

	mw := Idempotency(store, ReplayTTL, nil)
	var handler http.Handler
	// the duplicate arrives while the first request is still inside the handler
	handler = mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outer++
		if nested == nil {
			nested = httptest.NewRecorder()
			handler.ServeHTTP(nested, acceptRequest(`{}`, "dup"))
		} else {
			inner++
		}
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), acceptRequest(`{}`, "dup"))

	assert.Equal(t, 1, outer)
	assert.Zero(t, inner)
	require.NotNil(t, nested)
	assert.Equal(t, http.StatusConflict, nested.Code)
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	var calls int
	handler := Idempotency(newFakeReplayStore(), ReplayTTL, nil)(countingHandler(&calls, http.StatusOK, `{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, acceptRequest(`{}`, strings.Repeat("k", maxIdempotencyKey+1)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, calls)
}
