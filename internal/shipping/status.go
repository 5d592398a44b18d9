package shipping

import "fmt"

// Status is the carrier-independent shipment status. The zero value is StatusUnknown.
type Status int

const (
	StatusUnknown Status = iota
	StatusPreTransit
	StatusInTransit
	StatusOutForDelivery
	StatusDelivered
	StatusReturnToSender
	StatusFailure
)

var statusCodes = map[Status]string{
	StatusUnknown:        "unknown",
	StatusPreTransit:     "pre_transit",
	StatusInTransit:      "in_transit",
	StatusOutForDelivery: "out_for_delivery",
	StatusDelivered:      "delivered",
	StatusReturnToSender: "return_to_sender",
	StatusFailure:        "failure",
}

var statusDescriptions = map[Status]string{
	StatusUnknown:        "Unknown",
	StatusPreTransit:     "Pre-Transit",
	StatusInTransit:      "In Transit",
	StatusOutForDelivery: "Out For Delivery",
	StatusDelivered:      "Delivered",
	StatusReturnToSender: "Return To Sender",
	StatusFailure:        "Failure",
}

// String returns the stable machine code for the status.
func (s Status) String() string {
	if code, ok := statusCodes[s]; ok {
		return code
	}
	return statusCodes[StatusUnknown]
}

// Description returns a human readable label.
func (s Status) Description() string {
	if desc, ok := statusDescriptions[s]; ok {
		return desc
	}
	return statusDescriptions[StatusUnknown]
}

// MarshalText encodes the status as its machine code.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a machine code produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for status, code := range statusCodes {
		if code == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("shipping: unknown status code %q", string(text))
}
