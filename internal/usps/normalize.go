package usps

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/usps-tracking/internal/shipping"
)

const authFailurePrefix = "API Authorization failure"

var registeredMark = []byte("&reg;")

// deliveryLayouts are tried in order when parsing PredictedDeliveryDate.
var deliveryLayouts = []string{"January 2, 2006", "2006-01-02", time.RFC3339}

// Sanitize removes the unescaped registered-trademark entity USPS embeds in
// descriptions. Removal repeats until none remain, so Sanitize is idempotent.
func Sanitize(body []byte) []byte {
	for bytes.Contains(body, registeredMark) {
		body = bytes.ReplaceAll(body, registeredMark, nil)
	}
	return body
}

// Normalize converts a raw TrackV2 response into tracking details. It performs no I/O.
func Normalize(body []byte) (shipping.TrackingDetails, error) {
	root, err := ParseTree(Sanitize(body))
	if err != nil {
		return shipping.TrackingDetails{}, shapeError("document", err.Error())
	}

	description := root.Child("Description")
	if description != nil && strings.HasPrefix(strings.TrimLeft(description.Text, " \t\r\n"), authFailurePrefix) {
		return shipping.TrackingDetails{}, &shipping.AuthenticationError{Driver: Name}
	}

	info := root.Child("TrackInfo")
	if info == nil {
		detail := ""
		if description != nil {
			detail = strings.TrimSpace(description.Text)
		}
		return shipping.TrackingDetails{}, shapeError("TrackInfo", detail)
	}

	if carrierDesc := info.Lookup("Error", "Description"); carrierDesc != nil {
		return shipping.TrackingDetails{}, &shipping.CarrierError{Driver: Name, Message: carrierDesc.Text}
	}

	identifier, ok := info.Attr("ID")
	if !ok || identifier == "" {
		return shipping.TrackingDetails{}, shapeError("TrackInfo@ID", "")
	}
	status := info.Child("Status")
	if status == nil {
		return shipping.TrackingDetails{}, shapeError("TrackInfo.Status", "")
	}
	summary := info.Child("StatusSummary")
	if summary == nil {
		return shipping.TrackingDetails{}, shapeError("TrackInfo.StatusSummary", "")
	}

	var estimated *time.Time
	if predicted := info.Child("PredictedDeliveryDate"); predicted != nil && strings.TrimSpace(predicted.Text) != "" {
		parsed, err := parseDeliveryDate(predicted.Text)
		if err != nil {
			return shipping.TrackingDetails{}, shapeError("TrackInfo.PredictedDeliveryDate", err.Error())
		}
		estimated = &parsed
	}

	return shipping.TrackingDetails{
		Identifier:        identifier,
		Status:            MapStatus(status.Text),
		Summary:           summary.Text,
		EstimatedDelivery: estimated,
		Events:            collectEvents(info),
		Raw:               info.Map(),
	}, nil
}

func collectEvents(info *Node) []shipping.Event {
	events := make([]shipping.Event, 0, len(info.Children))
	for _, name := range []string{"TrackSummary", "TrackDetail"} {
		for _, node := range info.ChildrenNamed(name) {
			events = append(events, shipping.Event(node.Map()))
		}
	}
	return events
}

func parseDeliveryDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range deliveryLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", trimmed)
}

func shapeError(field, detail string) *shipping.ShapeError {
	return &shipping.ShapeError{Driver: Name, Field: field, Detail: detail}
}
