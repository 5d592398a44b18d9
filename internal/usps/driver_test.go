package usps_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/usps-tracking/internal/resilience"
	"github.com/noah-isme/usps-tracking/internal/shipping"
	"github.com/noah-isme/usps-tracking/internal/usps"
)

type capturedRequest struct {
	method      string
	path        string
	accept      string
	contentType string
	form        url.Values
}

func carrierServer(t *testing.T, status int, body []byte, seen chan<- capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		form, err := url.ParseQuery(string(raw))
		require.NoError(t, err)
		if seen != nil {
			seen <- capturedRequest{
				method:      r.Method,
				path:        r.URL.Path,
				accept:      r.Header.Get("Accept"),
				contentType: r.Header.Get("Content-Type"),
				form:        form,
			}
		}
		// USPS has been observed labelling XML bodies as JSON.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDriver(srv *httptest.Server, breaker *resilience.Breaker) *usps.Driver {
	client := resilience.HTTPClient{Client: srv.Client(), Breaker: breaker, Timeout: 2 * time.Second}
	return usps.New("API-KEY", "SOURCE", usps.WithHTTPClient(client), usps.WithBaseURL(srv.URL))
}

func TestDriverFindSendsTrackV2Request(t *testing.T) {
	t.Parallel()

	seen := make(chan capturedRequest, 1)
	srv := carrierServer(t, http.StatusOK, fixture(t, "track_delivered.xml"), seen)
	driver := newTestDriver(srv, nil)

	details, err := driver.Find(context.Background(), "9400111899223197428490")
	require.NoError(t, err)
	require.Equal(t, "9400111899223197428490", details.Identifier)
	require.Equal(t, shipping.StatusDelivered, details.Status)

	req := <-seen
	require.Equal(t, http.MethodPost, req.method)
	require.Equal(t, "/ShippingAPI.dll", req.path)
	require.Equal(t, "application/xml", req.accept)
	require.Equal(t, "application/x-www-form-urlencoded", req.contentType)
	require.Equal(t, "TrackV2", req.form.Get("API"))

	envelope, err := usps.ParseTree([]byte(req.form.Get("XML")))
	require.NoError(t, err)
	require.Equal(t, "TrackFieldRequest", envelope.Name)
	userID, _ := envelope.Attr("USERID")
	require.Equal(t, "API-KEY", userID)
	sourceID, _ := envelope.Child("SourceId").Attr("ID")
	require.Equal(t, "9400111899223197428490", sourceID)
	require.Equal(t, "SOURCE", envelope.Child("TrackID").Text)
	require.Equal(t, "1", envelope.Child("Revision").Text)
}

func TestDriverFindPropagatesNormalizerErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"auth_failure.xml": shipping.ErrAuthenticationFailed,
		"track_error.xml":  shipping.ErrCarrierReported,
	}
	for name, want := range cases {
		srv := carrierServer(t, http.StatusOK, fixture(t, name), nil)
		_, err := newTestDriver(srv, nil).Find(context.Background(), "X")
		require.ErrorIs(t, err, want, name)
	}
}

func TestDriverFindNon2xxIsTransportError(t *testing.T) {
	t.Parallel()

	srv := carrierServer(t, http.StatusBadGateway, []byte("upstream down"), nil)
	_, err := newTestDriver(srv, nil).Find(context.Background(), "X")
	require.ErrorIs(t, err, shipping.ErrTransport)

	var transportErr *shipping.TransportError
	require.True(t, errors.As(err, &transportErr))
	require.Equal(t, http.StatusBadGateway, transportErr.StatusCode)
	require.Equal(t, usps.Name, transportErr.Driver)
}

func TestDriverFindNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := carrierServer(t, http.StatusOK, nil, nil)
	driver := newTestDriver(srv, nil)
	srv.Close()

	_, err := driver.Find(context.Background(), "X")
	require.ErrorIs(t, err, shipping.ErrTransport)
	require.NotContains(t, err.Error(), "API-KEY")
}

func TestDriverFindOpenBreakerShortCircuits(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	breaker := resilience.NewBreaker(1, 0.5, time.Hour)
	driver := newTestDriver(srv, breaker)

	_, err := driver.Find(context.Background(), "X")
	require.ErrorIs(t, err, shipping.ErrTransport)
	require.Equal(t, resilience.Open, breaker.State())

	_, err = driver.Find(context.Background(), "X")
	require.ErrorIs(t, err, shipping.ErrTransport)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, int32(1), calls.Load())
}

func TestDriverFindRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	srv := carrierServer(t, http.StatusOK, fixture(t, "track_delivered.xml"), nil)
	client := resilience.HTTPClient{Client: srv.Client()}
	driver := usps.New("k", "s", usps.WithHTTPClient(client), usps.WithBaseURL(srv.URL), usps.WithMaxBodyBytes(64))

	_, err := driver.Find(context.Background(), "X")
	require.ErrorIs(t, err, shipping.ErrShapeDefect)
}

func TestDriverRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	srv := carrierServer(t, http.StatusOK, fixture(t, "track_delivered.xml"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestDriver(srv, nil).Find(ctx, "X")
	require.ErrorIs(t, err, shipping.ErrTransport)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDriverCallerCancellationKeepsBreakerClosed(t *testing.T) {
	t.Parallel()

	srv := carrierServer(t, http.StatusOK, fixture(t, "track_delivered.xml"), nil)
	breaker := resilience.NewBreaker(5, 0.5, time.Hour)
	driver := newTestDriver(srv, breaker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, err := driver.Find(ctx, "X")
		require.ErrorIs(t, err, context.Canceled)
	}
	require.Equal(t, resilience.Closed, breaker.State())

	details, err := driver.Find(context.Background(), "9400111899223197428490")
	require.NoError(t, err)
	require.Equal(t, shipping.StatusDelivered, details.Status)
}

func TestDriverFindConcurrent(t *testing.T) {
	t.Parallel()

	srv := carrierServer(t, http.StatusOK, fixture(t, "track_in_transit.xml"), nil)
	driver := newTestDriver(srv, resilience.NewBreaker(5, 0.5, time.Minute))

	const workers = 16
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			details, err := driver.Find(context.Background(), "X")
			if err == nil && details.Status != shipping.StatusInTransit {
				err = errors.New("unexpected status " + details.Status.String())
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
