package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func okRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	return r
}

func do(r http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCORS_AllowAll(t *testing.T) {
	r := okRouter(CORS([]string{"*"}))

	rec := do(r, http.MethodGet, "/ping", map[string]string{"Origin": "https://a.example"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_ConfiguredOrigins(t *testing.T) {
	r := okRouter(CORS([]string{"https://app.example/"}))

	rec := do(r, http.MethodGet, "/ping", map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = do(r, http.MethodGet, "/ping", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	r := okRouter(CORS(nil))

	rec := do(r, http.MethodOptions, "/ping", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRateLimit(t *testing.T) {
	limited := 0
	r := okRouter(RateLimit(0.001, 2, func() { limited++ }))

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, 1, limited)

	// a different client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLimiterPool_EvictsIdleClients(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pool := newLimiterPool(1, 1)
	pool.now = func() time.Time { return clock }

	assert.True(t, pool.Allow("10.0.0.1"))
	assert.True(t, pool.Allow("10.0.0.2"))
	assert.Equal(t, 2, pool.size())

	clock = clock.Add(5 * time.Minute)
	pool.Allow("10.0.0.1")

	clock = clock.Add(6 * time.Minute)
	pool.Allow("10.0.0.1")
	assert.Equal(t, 1, pool.size())

	// an evicted client comes back with a fresh bucket
	assert.True(t, pool.Allow("10.0.0.2"))
	assert.Equal(t, 2, pool.size())
}

func TestLoggerAndRecovery(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	r := okRouter(Logger(log), Recovery(log))

	do(r, http.MethodGet, "/ping", nil)
	do(r, http.MethodGet, "/missing", nil)
	rec := do(r, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	requests := logs.FilterMessage("request").All()
	require.Len(t, requests, 3)
	assert.Equal(t, zap.InfoLevel, requests[0].Level)
	assert.Equal(t, "/ping", requests[0].ContextMap()["path"])
	assert.Equal(t, zap.WarnLevel, requests[1].Level)
	assert.Equal(t, zap.ErrorLevel, requests[2].Level)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}
