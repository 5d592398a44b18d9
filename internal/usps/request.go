package usps

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"
)

const (
	trackAPI      = "TrackV2"
	trackPath     = "/ShippingAPI.dll"
	trackRevision = "1"
)

type trackFieldRequest struct {
	XMLName  xml.Name      `xml:"TrackFieldRequest"`
	UserID   string        `xml:"USERID,attr"`
	SourceID sourceIDField `xml:"SourceId"`
	TrackID  string        `xml:"TrackID"`
	Revision string        `xml:"Revision"`
}

type sourceIDField struct {
	ID string `xml:"ID,attr"`
}

// BuildRequest renders the TrackFieldRequest envelope for a single identifier.
// Values are escaped but not validated; malformed identifiers are left to the carrier.
func BuildRequest(apiKey, identifier, sourceID string) ([]byte, error) {
	return xml.Marshal(trackFieldRequest{
		UserID:   apiKey,
		SourceID: sourceIDField{ID: identifier},
		TrackID:  sourceID,
		Revision: trackRevision,
	})
}

// NewTrackRequest wraps an envelope in the form-encoded POST expected by ShippingAPI.dll.
func NewTrackRequest(ctx context.Context, baseURL string, envelope []byte) (*http.Request, error) {
	form := url.Values{}
	form.Set("API", trackAPI)
	form.Set("XML", string(envelope))

	endpoint := strings.TrimRight(baseURL, "/") + trackPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/xml")
	return req, nil
}
