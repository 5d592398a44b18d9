package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// HTTPClient wraps an http.Client with a per-call timeout and circuit-breaker gating.
// Each call makes exactly one attempt.
type HTTPClient struct {
	Client   *http.Client
	Breaker  *Breaker
	Timeout  time.Duration
	Fallback func(context.Context, *http.Request, error) (*http.Response, error)
}

// Do executes the request. Network errors and 5xx responses are reported to the
// breaker as failures unless ctx itself was cancelled or expired. A 5xx response
// is returned together with a nil error so the caller can inspect the status.
// When the breaker is open ErrOpenCircuit is returned unless a fallback is set.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
		return cl.fallback(ctx, req, ErrOpenCircuit)
	}

	resp, err := cl.doOnce(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; the carrier's health is unknown.
			if cl.Breaker != nil {
				cl.Breaker.Release()
			}
			return nil, err
		}
		cl.report(ctx, false)
		return cl.fallback(ctx, req, err)
	}
	cl.report(ctx, resp.StatusCode < http.StatusInternalServerError)
	return resp, nil
}

func (cl HTTPClient) report(ctx context.Context, success bool) {
	if cl.Breaker != nil {
		cl.Breaker.Report(ctx, success)
	}
}

func (cl HTTPClient) fallback(ctx context.Context, req *http.Request, cause error) (*http.Response, error) {
	if cl.Fallback != nil {
		return cl.Fallback(ctx, req, cause)
	}
	return nil, cause
}

func (cl HTTPClient) doOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		return cl.Client.Do(req.WithContext(ctx))
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the per-call timeout context once the body is closed so the
// caller can still read the body after Do returns.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
