package shipping_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/usps-tracking/internal/shipping"
)

func TestErrorKindsMatchSentinels(t *testing.T) {
	t.Parallel()

	auth := &shipping.AuthenticationError{Driver: "usps"}
	require.ErrorIs(t, auth, shipping.ErrAuthenticationFailed)
	require.NotErrorIs(t, auth, shipping.ErrCarrierReported)
	require.EqualError(t, auth, "api authentication failed for the usps driver")

	carrier := &shipping.CarrierError{Driver: "usps", Message: "Label created, not yet in system"}
	require.ErrorIs(t, carrier, shipping.ErrCarrierReported)
	require.EqualError(t, carrier, "Label created, not yet in system")

	shape := &shipping.ShapeError{Driver: "usps", Field: "TrackInfo.Status"}
	require.ErrorIs(t, shape, shipping.ErrShapeDefect)
	require.EqualError(t, shape, "usps: unexpected response shape: missing or invalid TrackInfo.Status")
	shape.Detail = "empty"
	require.EqualError(t, shape, "usps: unexpected response shape: missing or invalid TrackInfo.Status: empty")

	transport := &shipping.TransportError{Driver: "usps", Err: context.DeadlineExceeded}
	require.ErrorIs(t, transport, shipping.ErrTransport)
	require.ErrorIs(t, transport, context.DeadlineExceeded)
	require.EqualError(t, &shipping.TransportError{Driver: "usps", StatusCode: 502}, "usps: carrier responded with status 502")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"success":   nil,
		"invalid":   shipping.ErrIdentifierRequired,
		"auth":      fmt.Errorf("wrapped: %w", &shipping.AuthenticationError{}),
		"carrier":   &shipping.CarrierError{Message: "x"},
		"shape":     &shipping.ShapeError{Field: "TrackInfo"},
		"transport": &shipping.TransportError{Err: errors.New("dial")},
		"error":     errors.New("other"),
	}
	for want, err := range cases {
		require.Equal(t, want, shipping.Classify(err))
	}
}

func TestStatusCodes(t *testing.T) {
	t.Parallel()

	require.Equal(t, shipping.StatusUnknown, shipping.Status(0))
	require.Equal(t, "in_transit", shipping.StatusInTransit.String())
	require.Equal(t, "In Transit", shipping.StatusInTransit.Description())
	require.Equal(t, "unknown", shipping.Status(99).String())

	text, err := shipping.StatusDelivered.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "delivered", string(text))

	var decoded shipping.Status
	require.NoError(t, decoded.UnmarshalText([]byte("return_to_sender")))
	require.Equal(t, shipping.StatusReturnToSender, decoded)
	require.Error(t, decoded.UnmarshalText([]byte("lost")))
}
