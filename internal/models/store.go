package models

// CandidateSource identifies where a store candidate came from
type CandidateSource string

const (
	SourceLocalRegistry     CandidateSource = "local_registry"
	SourceExternalGeocoding CandidateSource = "external_geocoding"
	SourceUserLocation      CandidateSource = "user_location"
	SourceManualEntry       CandidateSource = "manual_entry"
)

// StoreCandidate is an unconfirmed, possibly multi-sourced representation
// of a physical store location
type StoreCandidate struct {
	Source          CandidateSource `json:"source"`
	ExternalKey     *string         `json:"external_key,omitempty"`
	Name            string          `json:"name"`
	FullAddress     string          `json:"full_address"`
	City            string          `json:"city"`
	Province        string          `json:"province"`
	PostalCode      string          `json:"postal_code"`
	Latitude        *float64        `json:"latitude,omitempty"`
	Longitude       *float64        `json:"longitude,omitempty"`
	MatchConfidence *float64        `json:"match_confidence,omitempty"`
}

// CreateStoreRequest is the request body for manual store creation
type CreateStoreRequest struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// StoreSearchParams contains parameters for a candidate search
type StoreSearchParams struct {
	Query     string
	Latitude  *float64
	Longitude *float64
	Limit     int
}
