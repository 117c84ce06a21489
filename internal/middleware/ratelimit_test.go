package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/robotdesk/internal/cache"
	"github.com/charlesng35/robotdesk/internal/database/testutil"
)

func serve(r *gin.Engine, path, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":1234"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	clock := clockwork.NewFakeClock()

	r := gin.New()
	r.Use(RateLimit(NewMemoryRateStore(clock), 2, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/other", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for i := 0; i < 2; i++ {
		w := serve(r, "/ping", "10.0.0.1")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := serve(r, "/ping", "10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, "60", w.Header().Get("Retry-After"))
	require.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")

	require.Equal(t, http.StatusOK, serve(r, "/ping", "10.0.0.2").Code, "other clients are independent")
	require.Equal(t, http.StatusOK, serve(r, "/other", "10.0.0.1").Code, "other routes are independent")

	clock.Advance(time.Minute)
	require.Equal(t, http.StatusOK, serve(r, "/ping", "10.0.0.1").Code)
}

func TestRateLimitWithDatabaseStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseRateStore(cache.NewDatabaseStore(db))

	r := gin.New()
	r.Use(RateLimit(store, 1, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	require.Equal(t, http.StatusOK, serve(r, "/ping", "10.0.0.1").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(r, "/ping", "10.0.0.1").Code)
}

type brokenRateStore struct{}

func (brokenRateStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func TestRateLimitFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(brokenRateStore{}, 1, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, serve(r, "/ping", "10.0.0.1").Code)
	}
}

func TestNewStoreRateStoreNil(t *testing.T) {
	require.Nil(t, NewRedisRateStore(nil))
}
