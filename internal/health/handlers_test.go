package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/usps-tracking/internal/health"
	"github.com/noah-isme/usps-tracking/internal/resilience"
)

func readyStatus(t *testing.T, h health.Handler) (int, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	return rr.Code, status
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadyWithRedisAndBreaker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	breaker := resilience.NewBreaker(1, 0.5, time.Hour)

	h := health.Handler{
		Checks: map[string]health.Check{
			"redis":        health.RedisCheck(client),
			"usps_breaker": health.BreakerCheck(breaker),
		},
		Timeout: time.Second,
	}

	code, status := readyStatus(t, h)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]string{"redis": "ok", "usps_breaker": "ok"}, status)

	breaker.Report(context.Background(), false)
	code, status = readyStatus(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "circuit open", status["usps_breaker"])

	mr.Close()
	_, status = readyStatus(t, h)
	require.NotEqual(t, "ok", status["redis"])
}

func TestReadyFailingCheck(t *testing.T) {
	h := health.Handler{Checks: map[string]health.Check{
		"custom": func(context.Context) error { return errors.New("down") },
	}}
	code, status := readyStatus(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "down", status["custom"])
}

func TestReadinessAfterShutdown(t *testing.T) {
	h := health.Handler{Checks: map[string]health.Check{"usps_breaker": health.BreakerCheck(nil)}}

	health.SetReady(true)
	code, _ := readyStatus(t, h)
	require.Equal(t, http.StatusOK, code)

	health.SetReady(false)
	code, status := readyStatus(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "shutting down", status["server"])

	health.SetReady(true)
}
