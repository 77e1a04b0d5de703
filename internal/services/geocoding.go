package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"attendance-backend/internal/geo"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GeocodingService resolves office addresses using the Google Maps API
type GeocodingService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Address is a geocoded office address.
type Address struct {
	FormattedAddress string         `json:"formatted_address"`
	Coordinate       geo.Coordinate `json:"coordinate"`
}

// GoogleGeocodeResponse represents the Google Maps Geocoding API response
type GoogleGeocodeResponse struct {
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	Status string `json:"status"`
}

// NewGeocodingService creates a new geocoding service
func NewGeocodingService(apiKey string) (*GeocodingService, error) {
	if apiKey == "" {
		return nil, errors.New("GOOGLE_MAPS_API_KEY environment variable is required")
	}

	return &GeocodingService{
		apiKey:  apiKey,
		baseURL: googleGeocodeURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Geocode converts an address string to coordinates
func (s *GeocodingService) Geocode(ctx context.Context, address string) (*Address, error) {
	params := url.Values{}
	params.Add("address", address)
	params.Add("key", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status code %d", resp.StatusCode)
	}

	var result GoogleGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Status != "OK" {
		return nil, fmt.Errorf("geocoding API returned status: %s", result.Status)
	}

	if len(result.Results) == 0 {
		return nil, fmt.Errorf("no results found for address: %s", address)
	}

	first := result.Results[0]
	coord := geo.Coordinate{Latitude: first.Geometry.Location.Lat, Longitude: first.Geometry.Location.Lng}
	if !coord.Valid() {
		return nil, fmt.Errorf("geocoder returned invalid coordinate %+v", coord)
	}
	return &Address{
		FormattedAddress: first.FormattedAddress,
		Coordinate:       coord,
	}, nil
}
