package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/usps-tracking/internal/common"
	"github.com/noah-isme/usps-tracking/internal/obs"
)

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
	// Route labels rejections in metrics.
	Route string
}

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// ByClientIP keys requests by the client address as resolved by res. Forwarding
// headers only count when they come from one of res.TrustedProxies.
func ByClientIP(res common.ClientIPResolver) func(*http.Request) string {
	return func(r *http.Request) string {
		return "ip:" + res.ClientIP(r)
	}
}

// Middleware implements the http.Handler middleware interface. Limiter errors fail open.
func (h Handler) Middleware(next http.Handler) http.Handler {
	keyFn := h.Config.Key
	if keyFn == nil {
		keyFn = ByClientIP(common.ClientIPResolver{})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), keyFn(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		limitValue := h.Config.Max
		if limitValue < 0 {
			limitValue = 0
		}
		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(limitValue))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			if obs.RateLimitRejectionsTotal != nil {
				obs.RateLimitRejectionsTotal.WithLabelValues(h.route(r)).Inc()
			}
			common.JSONError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h Handler) route(r *http.Request) string {
	if h.Config.Route != "" {
		return h.Config.Route
	}
	return obs.RouteLabel(r, "unknown")
}
