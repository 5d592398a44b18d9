package shipping

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentifierRequired is returned when a lookup is attempted without a tracking identifier.
	ErrIdentifierRequired = errors.New("shipping: tracking identifier is required")
	// ErrAuthenticationFailed matches errors raised when the carrier rejects the configured credentials.
	ErrAuthenticationFailed = errors.New("shipping: carrier authentication failed")
	// ErrCarrierReported matches errors where the carrier understood the request but has no usable result.
	ErrCarrierReported = errors.New("shipping: carrier reported an error")
	// ErrShapeDefect matches responses that parsed but did not contain the expected envelope or fields.
	ErrShapeDefect = errors.New("shipping: unexpected carrier response shape")
	// ErrTransport matches network and HTTP level failures talking to the carrier.
	ErrTransport = errors.New("shipping: carrier transport failure")
)

// AuthenticationError reports that the carrier rejected the credentials of a driver.
type AuthenticationError struct {
	Driver string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("api authentication failed for the %s driver", e.Driver)
}

// Is reports whether target is ErrAuthenticationFailed.
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

// CarrierError carries a carrier-supplied message that is safe to show to end users.
type CarrierError struct {
	Driver  string
	Message string
}

func (e *CarrierError) Error() string {
	return e.Message
}

// Is reports whether target is ErrCarrierReported.
func (e *CarrierError) Is(target error) bool {
	return target == ErrCarrierReported
}

// ShapeError reports a response that does not match the schema the integration expects.
type ShapeError struct {
	Driver string
	Field  string
	Detail string
}

func (e *ShapeError) Error() string {
	msg := fmt.Sprintf("%s: unexpected response shape: missing or invalid %s", e.Driver, e.Field)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is reports whether target is ErrShapeDefect.
func (e *ShapeError) Is(target error) bool {
	return target == ErrShapeDefect
}

// TransportError wraps a failure to obtain a response body from the carrier.
type TransportError struct {
	Driver     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: carrier responded with status %d", e.Driver, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: carrier request failed", e.Driver)
	}
	return fmt.Sprintf("%s: carrier request failed: %v", e.Driver, e.Err)
}

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Unwrap exposes the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Classify maps an error from a driver onto a short label for logs and metrics.
func Classify(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrIdentifierRequired):
		return "invalid"
	case errors.Is(err, ErrAuthenticationFailed):
		return "auth"
	case errors.Is(err, ErrCarrierReported):
		return "carrier"
	case errors.Is(err, ErrShapeDefect):
		return "shape"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "error"
	}
}
