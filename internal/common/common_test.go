package common_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/usps-tracking/internal/common"
)

func TestClientIPIgnoresForwardingFromUntrustedPeer(t *testing.T) {
	t.Parallel()

	resolver := common.ClientIPResolver{}
	for _, spoofed := range []string{"192.0.2.1", "192.0.2.2, 10.0.0.1", "198.51.100.7"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.50:41000"
		req.Header.Set("X-Forwarded-For", spoofed)
		req.Header.Set("X-Real-IP", spoofed)
		require.Equal(t, "203.0.113.50", resolver.ClientIP(req), spoofed)
	}
}

func TestClientIPBehindTrustedProxies(t *testing.T) {
	t.Parallel()

	trusted, err := common.ParseTrustedProxies([]string{"10.0.0.0/8", " ::1/128 "})
	require.NoError(t, err)
	resolver := common.ClientIPResolver{TrustedProxies: trusted}

	cases := []struct {
		name    string
		remote  string
		headers map[string][]string
		want    string
	}{
		{"nearest untrusted hop", "10.0.0.2:1234", map[string][]string{"X-Forwarded-For": {"198.51.100.9, 192.0.2.1, 10.0.0.5"}}, "192.0.2.1"},
		{"multiple headers", "10.0.0.2:1234", map[string][]string{"X-Forwarded-For": {"198.51.100.9", "192.0.2.1"}}, "192.0.2.1"},
		{"all trusted", "10.0.0.2:1234", map[string][]string{"X-Forwarded-For": {"10.1.1.1, 10.0.0.5"}}, "10.1.1.1"},
		{"garbage stops the walk", "10.0.0.2:1234", map[string][]string{"X-Forwarded-For": {"192.0.2.1, unknown, 10.0.0.5"}}, "10.0.0.5"},
		{"real ip", "[::1]:443", map[string][]string{"X-Real-IP": {"::ffff:192.0.2.5"}}, "192.0.2.5"},
		{"no headers", "10.0.0.2:1234", nil, "10.0.0.2"},
		{"untrusted peer", "192.0.2.77:1234", map[string][]string{"X-Forwarded-For": {"198.51.100.9"}}, "192.0.2.77"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		for k, values := range tc.headers {
			for _, v := range values {
				req.Header.Add(k, v)
			}
		}
		require.Equal(t, tc.want, resolver.ClientIP(req), tc.name)
	}
}

func TestClientIPRemoteAddrForms(t *testing.T) {
	t.Parallel()

	resolver := common.ClientIPResolver{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	require.Equal(t, "2001:db8::1", resolver.ClientIP(req))

	req.RemoteAddr = "pipe"
	require.Equal(t, "pipe", resolver.ClientIP(req))
	require.Empty(t, resolver.ClientIP(nil))
}

func TestParseTrustedProxiesRejectsInvalid(t *testing.T) {
	t.Parallel()

	_, err := common.ParseTrustedProxies([]string{"10.0.0.0/8", "10.0.0.1"})
	require.ErrorContains(t, err, `"10.0.0.1"`)
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	var withID *http.Request
	middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		withID = r
	})).ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, withID)

	rr := httptest.NewRecorder()
	appErr := common.NewAppError("TRACKING_UNAVAILABLE", "no record", http.StatusNotFound, errors.New("cause"))
	common.WriteError(rr, withID, fmt.Errorf("handler: %w", appErr))
	require.Equal(t, http.StatusNotFound, rr.Code)

	var body map[string]common.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "TRACKING_UNAVAILABLE", body["error"].Code)
	require.Equal(t, "no record", body["error"].Message)
	require.Equal(t, middleware.GetReqID(withID.Context()), body["error"].RequestID)
	require.NotEmpty(t, body["error"].RequestID)
	require.ErrorContains(t, appErr, "cause")

	rr = httptest.NewRecorder()
	common.WriteError(rr, req, errors.New("secret detail"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "secret detail")
	require.NotContains(t, rr.Body.String(), "requestId")
}
