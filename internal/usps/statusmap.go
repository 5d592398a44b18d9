package usps

import "github.com/noah-isme/usps-tracking/internal/shipping"

// MapStatus converts USPS status text into a shipment status. Matching is exact and
// case-sensitive; unrecognised text maps to StatusUnknown.
func MapStatus(carrier string) shipping.Status {
	switch carrier {
	case "Delivered":
		return shipping.StatusDelivered
	case "USPS in possession of item",
		"In Transit to Next Facility",
		"Arrived at USPS Regional Facility":
		return shipping.StatusInTransit
	case "Out for Delivery":
		return shipping.StatusOutForDelivery
	case "Shipping Label Created, USPS Awaiting Item",
		"Pre-Shipment Info Sent to USPS, USPS Awaiting Item":
		return shipping.StatusPreTransit
	case "Delivered, To Original Sender":
		return shipping.StatusReturnToSender
	case "Delivery Attempted - No Access to Delivery Location":
		return shipping.StatusFailure
	default:
		return shipping.StatusUnknown
	}
}
