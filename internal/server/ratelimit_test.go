package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func originRequest(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/chat/conversations", nil)
	req.RemoteAddr = origin + ":12345"
	return req
}

func TestOriginWindowEnforced(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute, zap.NewNop())
	handler := limiter.OriginMiddleware(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, originRequest("10.0.0.1"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(3-(i+1)), rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, originRequest("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)

	// A different origin has its own window
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, originRequest("10.0.0.2"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOriginKeyPrefersForwardedFor(t *testing.T) {
	req := originRequest("10.0.0.1")
	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	assert.Equal(t, "203.0.113.7", originKey(req))

	req = originRequest("10.0.0.1")
	assert.Equal(t, "10.0.0.1", originKey(req))
}

func TestUserHourlyCap(t *testing.T) {
	limiter := NewRateLimiter(1000000, time.Minute, zap.NewNop())
	handler := limiter.UserMiddleware(okHandler())

	serve := func(userID string) *httptest.ResponseRecorder {
		req := originRequest("10.0.0.1")
		req = req.WithContext(contextWithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < UserHourlyMax; i++ {
		rec := serve("alice")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := serve("alice")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-User-Remaining"))

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)

	// Other users are unaffected
	assert.Equal(t, http.StatusOK, serve("bob").Code)
}

func TestUserMiddlewarePassesAnonymous(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute, zap.NewNop())
	handler := limiter.UserMiddleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, originRequest("10.0.0.1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-User-Remaining"))
}

func TestWindowReopensAfterExpiry(t *testing.T) {
	limiter := NewRateLimiter(1, 10*time.Millisecond, zap.NewNop())
	handler := limiter.OriginMiddleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, originRequest("10.0.0.1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, originRequest("10.0.0.1"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	time.Sleep(20 * time.Millisecond)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, originRequest("10.0.0.1"))
	assert.Equal(t, http.StatusOK, rec.Code, "expired window must reopen")
}

func TestSweepEvictsExpiredRecords(t *testing.T) {
	limiter := NewRateLimiter(5, time.Minute, zap.NewNop())

	limiter.check(limiter.origins, "10.0.0.1", 5, time.Minute)
	limiter.check(limiter.users, "alice", 5, time.Minute)
	require.Len(t, limiter.origins, 1)
	require.Len(t, limiter.users, 1)

	limiter.sweep(time.Now().Add(2 * time.Minute))

	assert.Empty(t, limiter.origins)
	assert.Empty(t, limiter.users)
}

func TestStopIsIdempotent(t *testing.T) {
	limiter := NewRateLimiter(5, time.Minute, zap.NewNop())
	limiter.Start()
	limiter.Stop()
	limiter.Stop()
}
