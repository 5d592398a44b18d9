package security

import (
	"net/http"
	"strconv"
)

// Headers attaches response headers suited to a JSON-only API.
type Headers struct {
	// HSTSMaxAge enables Strict-Transport-Security on TLS requests when positive.
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	// CacheControl overrides the default no-store policy; tracking data changes between calls.
	CacheControl string
}

// Middleware implements chi middleware.
func (h Headers) Middleware(next http.Handler) http.Handler {
	cacheControl := h.CacheControl
	if cacheControl == "" {
		cacheControl = "no-store"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		headers.Set("Cache-Control", cacheControl)
		if h.HSTSMaxAge > 0 && r.TLS != nil {
			value := "max-age=" + strconv.Itoa(h.HSTSMaxAge)
			if h.HSTSIncludeSubdomains {
				value += "; includeSubDomains"
			}
			headers.Set("Strict-Transport-Security", value)
		}
		next.ServeHTTP(w, r)
	})
}
