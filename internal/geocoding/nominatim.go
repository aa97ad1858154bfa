// Package geocoding resolves place coordinates through OpenStreetMap's
// Nominatim search API.
package geocoding

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

const DefaultBaseURL = "https://nominatim.openstreetmap.org/search"

// ErrNoResult is returned when the query matched nothing.
var ErrNoResult = errors.New("geocoding returned no results")

// Result is the first match of a search.
type Result struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"display_name"`
}

// Client wraps the Nominatim search endpoint.
type Client struct {
	baseURL    string
	userAgent  string
	throttle   *Throttle
	httpClient *http.Client
}

// NewClient builds a client. Nominatim rejects requests without a
// descriptive User-Agent, so userAgent must be set.
func NewClient(baseURL, userAgent string, throttle *Throttle) (*Client, error) {
	if userAgent == "" {
		return nil, errors.New("geocoding: user agent is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if throttle == nil {
		throttle = NewThrottle(1)
	}
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		throttle:  throttle,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

type searchHit struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode looks up a free-form query and returns the best match.
func (c *Client) Geocode(ctx context.Context, query string) (*Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	u := c.baseURL + "?" + q.Encode()

	if err := c.throttle.Wait(ctx, u); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding API returned HTTP %d", resp.StatusCode)
	}

	var hits []searchHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(hits) == 0 {
		return nil, ErrNoResult
	}

	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("bad latitude %q: %w", hits[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("bad longitude %q: %w", hits[0].Lon, err)
	}
	return &Result{Lat: lat, Lon: lon, DisplayName: hits[0].DisplayName}, nil
}
