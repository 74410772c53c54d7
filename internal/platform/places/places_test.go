package places

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const detailsResponse = `{
  "status": "OK",
  "result": {
    "name": "Garden City Mall",
    "formatted_address": "Thika Rd, Nairobi, Kenya",
    "place_id": "place-1",
    "geometry": {"location": {"lat": -1.2318, "lng": 36.8787}}
  }
}`

func newTestClient(t *testing.T, host string) *Client {
	t.Helper()
	c := NewClient(host, "test-key", zerolog.Nop())
	c.httpc.RetryDelay = time.Millisecond
	return c
}

func TestDetails(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/place/details/json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("place_id"); got != "place-1" {
			t.Errorf("place_id = %q", got)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key = %q", got)
		}
		w.Write([]byte(detailsResponse))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	details, err := client.Details(context.Background(), "place-1")
	if err != nil {
		t.Fatalf("Details failed: %v", err)
	}
	if details.Name != "Garden City Mall" {
		t.Errorf("Name = %q", details.Name)
	}
	if details.FormattedAddress != "Thika Rd, Nairobi, Kenya" {
		t.Errorf("FormattedAddress = %q", details.FormattedAddress)
	}
	if details.Lat != -1.2318 || details.Lng != 36.8787 {
		t.Errorf("coords = %v,%v", details.Lat, details.Lng)
	}
	if string(details.Raw) != detailsResponse {
		t.Error("Raw does not carry the verbatim response")
	}

	// Second lookup is served from the in-memory front.
	if _, err := client.Details(context.Background(), "place-1"); err != nil {
		t.Fatalf("cached Details failed: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}

func TestDetailsZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ZERO_RESULTS"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	details, err := client.Details(context.Background(), "nowhere")
	if err != nil {
		t.Fatalf("Details failed: %v", err)
	}
	if details.Status != StatusZeroResults {
		t.Errorf("Status = %q, want ZERO_RESULTS", details.Status)
	}
	if details.PlaceID != "" || details.Name != "" {
		t.Errorf("empty result expected, got %+v", details)
	}
}

func TestDetailsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "OVER_QUERY_LIMIT"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Details(context.Background(), "place-1")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if statusErr.Status != "OVER_QUERY_LIMIT" {
		t.Errorf("Status = %q", statusErr.Status)
	}
}

func TestNearbySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/place/nearbysearch/json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("rankby"); got != "distance" {
			t.Errorf("rankby = %q", got)
		}
		if got := r.URL.Query().Get("location"); got != "-1.2318 36.8787" {
			t.Errorf("location = %q", got)
		}
		w.Write([]byte(`{"status": "OK", "results": [{"name": "Roysambu"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	nearby, err := client.NearbySearch(context.Background(), -1.2318, 36.8787)
	if err != nil {
		t.Fatalf("NearbySearch failed: %v", err)
	}
	if !strings.Contains(nearby.URL, "rankby=distance") {
		t.Errorf("URL = %q, missing rankby", nearby.URL)
	}
	if !strings.Contains(string(nearby.Raw), "Roysambu") {
		t.Errorf("Raw = %q", nearby.Raw)
	}
}

func TestNearbySearchBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "REQUEST_DENIED"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	var statusErr *StatusError
	if _, err := client.NearbySearch(context.Background(), 0, 0); !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
}

func TestTextSearch(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if got := r.URL.Query().Get("query"); got != "garden city" {
			t.Errorf("query = %q", got)
		}
		w.Write([]byte(`{"status": "OK", "results": []}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	raw, err := client.TextSearch(context.Background(), "garden city")
	if err != nil {
		t.Fatalf("TextSearch failed: %v", err)
	}
	if !strings.Contains(string(raw), `"status": "OK"`) {
		t.Errorf("raw = %q", raw)
	}

	if _, err := client.TextSearch(context.Background(), "garden city"); err != nil {
		t.Fatalf("cached TextSearch failed: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}
