// Package places is the client for the external place API: place details,
// nearby search and text search. Responses are kept verbatim so callers can
// persist exactly what the API said, with a short in-memory front so a burst
// of tasks resolving the same place costs one upstream call.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/stima/stima/internal/platform/httpx"
)

// Statuses the API can answer with. Only OK and ZERO_RESULTS are worth
// keeping; everything else means the call itself went wrong.
const (
	StatusOK          = "OK"
	StatusZeroResults = "ZERO_RESULTS"
)

// StatusError is a response whose status is not cacheable, such as
// OVER_QUERY_LIMIT or REQUEST_DENIED.
type StatusError struct {
	API    string
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %s", e.API, e.Status)
}

// Details is one place-details response.
type Details struct {
	Status           string
	PlaceID          string
	Name             string
	FormattedAddress string
	Lat              float64
	Lng              float64
	Raw              []byte
}

// Nearby is one nearby-search response. URL is the exact query issued and
// is the key the response is persisted under.
type Nearby struct {
	URL string
	Raw []byte
}

type Client struct {
	httpc *httpx.Client
	host  string
	key   string
	front *cache.Cache
}

func NewClient(host, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		httpc: httpx.NewClient("places", 15*time.Second, log),
		host:  host,
		key:   apiKey,
		front: cache.New(time.Hour, 10*time.Minute),
	}
}

// Details fetches one place by its external identifier. ZERO_RESULTS is a
// valid answer and comes back with an empty result, not an error.
func (c *Client) Details(ctx context.Context, placeID string) (*Details, error) {
	cacheKey := "details:" + placeID
	if hit, ok := c.front.Get(cacheKey); ok {
		return hit.(*Details), nil
	}

	query := url.Values{}
	query.Set("key", c.key)
	query.Set("place_id", placeID)
	raw, err := c.get(ctx, c.host+"/place/details/json?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var payload struct {
		Status string `json:"status"`
		Result struct {
			Name             string `json:"name"`
			FormattedAddress string `json:"formatted_address"`
			PlaceID          string `json:"place_id"`
			Geometry         struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode place details: %w", err)
	}
	if payload.Status != StatusOK && payload.Status != StatusZeroResults {
		return nil, &StatusError{API: "place details", Status: payload.Status}
	}

	details := &Details{
		Status:           payload.Status,
		PlaceID:          payload.Result.PlaceID,
		Name:             payload.Result.Name,
		FormattedAddress: payload.Result.FormattedAddress,
		Lat:              payload.Result.Geometry.Location.Lat,
		Lng:              payload.Result.Geometry.Location.Lng,
		Raw:              raw,
	}
	c.front.Set(cacheKey, details, cache.DefaultExpiration)
	return details, nil
}

// NearbySearch fetches the neighbour set of a coordinate, ranked by
// distance.
func (c *Client) NearbySearch(ctx context.Context, lat, lng float64) (*Nearby, error) {
	query := url.Values{}
	query.Set("key", c.key)
	query.Set("location", formatCoord(lat)+" "+formatCoord(lng))
	query.Set("rankby", "distance")
	queryURL := c.host + "/place/nearbysearch/json?" + query.Encode()

	if hit, ok := c.front.Get("nearby:" + queryURL); ok {
		return hit.(*Nearby), nil
	}

	raw, err := c.get(ctx, queryURL)
	if err != nil {
		return nil, err
	}
	if err := checkStatus("nearby search", raw); err != nil {
		return nil, err
	}

	nearby := &Nearby{URL: queryURL, Raw: raw}
	c.front.Set("nearby:"+queryURL, nearby, cache.DefaultExpiration)
	return nearby, nil
}

// TextSearch runs a free-text place query and returns the raw response for
// the text-search cache.
func (c *Client) TextSearch(ctx context.Context, term string) ([]byte, error) {
	cacheKey := "text:" + term
	if hit, ok := c.front.Get(cacheKey); ok {
		return hit.([]byte), nil
	}

	query := url.Values{}
	query.Set("key", c.key)
	query.Set("query", term)
	raw, err := c.get(ctx, c.host+"/place/textsearch/json?"+query.Encode())
	if err != nil {
		return nil, err
	}
	if err := checkStatus("text search", raw); err != nil {
		return nil, err
	}

	c.front.Set(cacheKey, raw, cache.DefaultExpiration)
	return raw, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.httpc.Get(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("place api returned http %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func checkStatus(api string, raw []byte) error {
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", api, err)
	}
	if payload.Status != StatusOK && payload.Status != StatusZeroResults {
		return &StatusError{API: api, Status: payload.Status}
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
