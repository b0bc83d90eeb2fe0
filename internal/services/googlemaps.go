package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	geocodeAPIURL       = "https://maps.googleapis.com/maps/api/geocode/json"
	placesTextSearchURL = "https://maps.googleapis.com/maps/api/place/textsearch/json"
	mapsTimeout         = 10 * time.Second
	defaultSearchRadius = 5000 // 5km in meters
)

var (
	ErrNoResults      = errors.New("no results found")
	ErrAPIError       = errors.New("google maps api error")
	ErrInvalidAPIKey  = errors.New("invalid or missing api key")
	ErrRequestDenied  = errors.New("request denied by google api")
	ErrOverQueryLimit = errors.New("over query limit")
	ErrInvalidRequest = errors.New("invalid request")
)

// GoogleMapsService provides the geocoding half of store resolution:
// free-text place search and reverse geocoding of device coordinates
type GoogleMapsService struct {
	apiKey     string
	httpClient *http.Client
}

// GeocodingResult represents the result of a reverse-geocoding operation
type GeocodingResult struct {
	FormattedAddress string            `json:"formatted_address"`
	Latitude         float64           `json:"latitude"`
	Longitude        float64           `json:"longitude"`
	PlaceID          string            `json:"place_id"`
	Components       AddressComponents `json:"components"`
}

// AddressComponents contains parsed address components
type AddressComponents struct {
	StreetNumber string `json:"street_number,omitempty"`
	Route        string `json:"route,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	StateCode    string `json:"state_code,omitempty"`
	Country      string `json:"country,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
}

// PlaceResult represents a place from the Places API
type PlaceResult struct {
	PlaceID          string  `json:"place_id"`
	Name             string  `json:"name"`
	FormattedAddress string  `json:"formatted_address"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Rating           float64 `json:"rating,omitempty"`
	UserRatingsTotal int     `json:"user_ratings_total,omitempty"`
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		PlaceID          string `json:"place_id"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		AddressComponents []struct {
			LongName  string   `json:"long_name"`
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type placesTextSearchResponse struct {
	Status  string `json:"status"`
	Results []struct {
		PlaceID          string `json:"place_id"`
		Name             string `json:"name"`
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		Rating           float64 `json:"rating,omitempty"`
		UserRatingsTotal int     `json:"user_ratings_total,omitempty"`
	} `json:"results"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewGoogleMapsService creates a new GoogleMapsService instance
func NewGoogleMapsService(apiKey string) *GoogleMapsService {
	return &GoogleMapsService{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: mapsTimeout,
		},
	}
}

// ReverseGeocode converts coordinates to an address
func (s *GoogleMapsService) ReverseGeocode(ctx context.Context, lat, lng float64) (*GeocodingResult, error) {
	if s.apiKey == "" {
		return nil, ErrInvalidAPIKey
	}

	params := url.Values{}
	params.Set("latlng", fmt.Sprintf("%f,%f", lat, lng))
	params.Set("key", s.apiKey)

	reqURL := geocodeAPIURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	var geocodeResp geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&geocodeResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if err := checkGoogleAPIStatus(geocodeResp.Status, geocodeResp.ErrorMessage); err != nil {
		return nil, err
	}

	if len(geocodeResp.Results) == 0 {
		return nil, ErrNoResults
	}

	result := geocodeResp.Results[0]
	return &GeocodingResult{
		FormattedAddress: result.FormattedAddress,
		Latitude:         result.Geometry.Location.Lat,
		Longitude:        result.Geometry.Location.Lng,
		PlaceID:          result.PlaceID,
		Components:       parseAddressComponents(result.AddressComponents),
	}, nil
}

// TextSearch searches for places by text query with optional location bias.
// lat/lng of 0,0 means no bias; radius <= 0 uses the default.
func (s *GoogleMapsService) TextSearch(ctx context.Context, query string, lat, lng float64, radius int) ([]*PlaceResult, error) {
	if s.apiKey == "" {
		return nil, ErrInvalidAPIKey
	}

	if query == "" {
		return nil, ErrInvalidRequest
	}

	if radius <= 0 {
		radius = defaultSearchRadius
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("key", s.apiKey)

	if lat != 0 || lng != 0 {
		params.Set("location", fmt.Sprintf("%f,%f", lat, lng))
		params.Set("radius", strconv.Itoa(radius))
	}

	reqURL := placesTextSearchURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	var textResp placesTextSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&textResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if err := checkGoogleAPIStatus(textResp.Status, textResp.ErrorMessage); err != nil {
		// ZERO_RESULTS is not an error, just means no results found
		if errors.Is(err, ErrNoResults) {
			return []*PlaceResult{}, nil
		}
		return nil, err
	}

	places := make([]*PlaceResult, 0, len(textResp.Results))
	for _, p := range textResp.Results {
		places = append(places, &PlaceResult{
			PlaceID:          p.PlaceID,
			Name:             p.Name,
			FormattedAddress: p.FormattedAddress,
			Latitude:         p.Geometry.Location.Lat,
			Longitude:        p.Geometry.Location.Lng,
			Rating:           p.Rating,
			UserRatingsTotal: p.UserRatingsTotal,
		})
	}

	return places, nil
}

// parseAddressComponents extracts relevant fields from Google's address components
func parseAddressComponents(components []struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}) AddressComponents {
	ac := AddressComponents{}
	for _, c := range components {
		for _, t := range c.Types {
			switch t {
			case "street_number":
				ac.StreetNumber = c.LongName
			case "route":
				ac.Route = c.LongName
			case "locality":
				ac.City = c.LongName
			case "administrative_area_level_1":
				ac.State = c.LongName
				ac.StateCode = c.ShortName
			case "country":
				ac.Country = c.LongName
				ac.CountryCode = c.ShortName
			case "postal_code":
				ac.PostalCode = c.LongName
			}
		}
	}
	return ac
}

// checkGoogleAPIStatus converts Google API status codes to errors
func checkGoogleAPIStatus(status, errorMessage string) error {
	switch status {
	case "OK":
		return nil
	case "ZERO_RESULTS":
		return ErrNoResults
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return ErrOverQueryLimit
	case "REQUEST_DENIED":
		if errorMessage != "" {
			return fmt.Errorf("%w: %s", ErrRequestDenied, errorMessage)
		}
		return ErrRequestDenied
	case "INVALID_REQUEST":
		if errorMessage != "" {
			return fmt.Errorf("%w: %s", ErrInvalidRequest, errorMessage)
		}
		return ErrInvalidRequest
	default:
		if errorMessage != "" {
			return fmt.Errorf("%w: %s - %s", ErrAPIError, status, errorMessage)
		}
		return fmt.Errorf("%w: %s", ErrAPIError, status)
	}
}
