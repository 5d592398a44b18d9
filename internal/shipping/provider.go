package shipping

import (
	"context"
	"time"
)

// Event is a raw carrier tracking event passed through without imposed structure.
type Event map[string]any

// TrackingDetails is the normalised result of a single tracking lookup.
type TrackingDetails struct {
	Identifier        string         `json:"identifier"`
	Status            Status         `json:"status"`
	Summary           string         `json:"summary,omitempty"`
	EstimatedDelivery *time.Time     `json:"estimatedDelivery"`
	Events            []Event        `json:"events"`
	Raw               map[string]any `json:"raw"`
}

// Driver models a carrier integration capable of looking up a tracking identifier.
type Driver interface {
	Name() string
	Find(ctx context.Context, identifier string) (TrackingDetails, error)
}
