package usps

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/usps-tracking/internal/resilience"
	"github.com/noah-isme/usps-tracking/internal/shipping"
)

const (
	// Name identifies the USPS driver in errors, logs and metrics.
	Name = "usps"
	// DefaultBaseURL is the production USPS Web Tools host.
	DefaultBaseURL = "https://secure.shippingapis.com"

	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 1 << 20
)

// Doer sends a prepared request to the carrier.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Option customises a Driver.
type Option func(*Driver)

// WithHTTPClient replaces the transport used to reach USPS.
func WithHTTPClient(client Doer) Option {
	return func(d *Driver) {
		if client != nil {
			d.client = client
		}
	}
}

// WithBaseURL points the driver at a different host, e.g. the USPS test environment.
func WithBaseURL(baseURL string) Option {
	return func(d *Driver) {
		if baseURL != "" {
			d.baseURL = baseURL
		}
	}
}

// WithMaxBodyBytes bounds how much of a response body is read.
func WithMaxBodyBytes(n int64) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxBodyBytes = n
		}
	}
}

// Driver looks up shipments with the USPS TrackV2 API. It holds no per-call state
// and is safe for concurrent use.
type Driver struct {
	apiKey       string
	sourceID     string
	baseURL      string
	client       Doer
	maxBodyBytes int64
}

// New constructs a driver from USPS Web Tools credentials.
func New(apiKey, sourceID string, opts ...Option) *Driver {
	d := &Driver{
		apiKey:       apiKey,
		sourceID:     sourceID,
		baseURL:      DefaultBaseURL,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = NewHTTPClient(defaultTimeout, nil)
	}
	return d
}

// NewHTTPClient returns the default transport: a traced http.Client behind an
// optional circuit breaker.
func NewHTTPClient(timeout time.Duration, breaker *resilience.Breaker) resilience.HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return resilience.HTTPClient{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Breaker: breaker,
		Timeout: timeout,
	}
}

// Name implements shipping.Driver.
func (d *Driver) Name() string { return Name }

// Find issues one TrackV2 request for identifier and normalises the response.
func (d *Driver) Find(ctx context.Context, identifier string) (shipping.TrackingDetails, error) {
	envelope, err := BuildRequest(d.apiKey, identifier, d.sourceID)
	if err != nil {
		return shipping.TrackingDetails{}, fmt.Errorf("usps: build request: %w", err)
	}
	req, err := NewTrackRequest(ctx, d.baseURL, envelope)
	if err != nil {
		return shipping.TrackingDetails{}, fmt.Errorf("usps: new request: %w", err)
	}

	resp, err := d.client.Do(ctx, req)
	if err != nil {
		return shipping.TrackingDetails{}, &shipping.TransportError{Driver: Name, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBodyBytes+1))
	if err != nil {
		return shipping.TrackingDetails{}, &shipping.TransportError{Driver: Name, Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return shipping.TrackingDetails{}, &shipping.TransportError{Driver: Name, StatusCode: resp.StatusCode}
	}
	if int64(len(body)) > d.maxBodyBytes {
		return shipping.TrackingDetails{}, shapeError("document", fmt.Sprintf("body exceeds %d bytes", d.maxBodyBytes))
	}
	// The content type is ignored: USPS serves XML under a JSON content type in some deployments.
	return Normalize(body)
}
