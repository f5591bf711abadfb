package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// newTestGeocoder points the service at a mock Nominatim and strips the
// politeness limiter and backoff delays so tests run instantly.
func newTestGeocoder(baseURL string) *GeocodeService {
	g := NewGeocodeService(baseURL, 0)
	g.limiter = rate.NewLimiter(rate.Inf, 1)
	g.initialInterval = time.Millisecond
	return g
}

func TestGeocodeService_CacheHitIssuesOneCall(t *testing.T) {
	calls := atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"address":{"country":"Germany","state":"Berlin","city":"Berlin"}}`))
	}))
	defer server.Close()

	g := newTestGeocoder(server.URL)
	ctx := context.Background()

	first, err := g.Resolve(ctx, 52.52, 13.405)
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	// Same spot with sub-precision jitter must hit the cache.
	second, err := g.Resolve(ctx, 52.520004, 13.404996)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 external call, got %d", got)
	}
	if first.LongLat != second.LongLat {
		t.Errorf("jittered coordinates produced different identities: %q vs %q", first.LongLat, second.LongLat)
	}
	if first.Country == nil || *first.Country != "Germany" {
		t.Errorf("unexpected country: %v", first.Country)
	}
}

func TestGeocodeService_RetriesThenSucceeds(t *testing.T) {
	calls := atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"address":{"country":"France","region":"Île-de-France"}}`))
	}))
	defer server.Close()

	g := newTestGeocoder(server.URL)

	loc, err := g.Resolve(context.Background(), 48.8566, 2.3522)
	if err != nil {
		t.Fatalf("expected success after 3 failures, got %v", err)
	}
	if calls.Load() != 4 {
		t.Errorf("expected 4 attempts (3 failures + 1 success), got %d", calls.Load())
	}
	if loc.Country == nil || *loc.Country != "France" {
		t.Errorf("unexpected country: %v", loc.Country)
	}
	if loc.Region == nil || *loc.Region != "Île-de-France" {
		t.Errorf("unexpected region: %v", loc.Region)
	}
	if loc.LongLat != "48.8566, 2.3522" {
		t.Errorf("unexpected coordinate identity: %q", loc.LongLat)
	}
}

func TestGeocodeService_ExhaustedRetries(t *testing.T) {
	calls := atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	g := newTestGeocoder(server.URL)

	_, err := g.Resolve(context.Background(), 48.8566, 2.3522)
	if !errors.Is(err, ErrGeocodeUnresolved) {
		t.Fatalf("expected ErrGeocodeUnresolved, got %v", err)
	}
	if calls.Load() != 4 {
		t.Errorf("expected 4 bounded attempts, got %d", calls.Load())
	}

	// Failures must not be cached — a later attempt gets a fresh lookup.
	_, _ = g.Resolve(context.Background(), 48.8566, 2.3522)
	if calls.Load() <= 4 {
		t.Error("expected a fresh external lookup after a failed resolve")
	}
}

func TestGeocodeService_CityFallsBackToTownAndVillage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":{"country":"Austria","state":"Tyrol","village":"Alpbach"}}`))
	}))
	defer server.Close()

	g := newTestGeocoder(server.URL)
	loc, err := g.Resolve(context.Background(), 47.3986, 11.9416)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if loc.City == nil || *loc.City != "Alpbach" {
		t.Errorf("expected village to fill city, got %v", loc.City)
	}
	if loc.PlaceKey != "austria-tyrol-alpbach" {
		t.Errorf("unexpected place key: %q", loc.PlaceKey)
	}
}

func TestGeocodeService_EvictionBound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":{"country":"Chile"}}`))
	}))
	defer server.Close()

	g := newTestGeocoder(server.URL)
	g.maxEntries = 2

	for i := 0; i < 5; i++ {
		if _, err := g.Resolve(context.Background(), float64(i), float64(i)); err != nil {
			t.Fatalf("resolve %d failed: %v", i, err)
		}
	}

	g.mu.Lock()
	size := len(g.cache)
	g.mu.Unlock()
	if size > 2 {
		t.Errorf("cache grew to %d entries despite bound of 2", size)
	}
}

func TestCountryNameFromCode(t *testing.T) {
	if got := CountryNameFromCode("fr"); got != "France" {
		t.Errorf("fr: got %q", got)
	}
	if got := CountryNameFromCode("de"); got != "Germany" {
		t.Errorf("de: got %q", got)
	}
	if got := CountryNameFromCode(""); got != "" {
		t.Errorf("empty code: got %q", got)
	}
}
