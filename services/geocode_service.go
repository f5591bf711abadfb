// services/geocode_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"geostats-pipeline/models"
	"geostats-pipeline/utils"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const DefaultNominatimBaseURL = "https://nominatim.openstreetmap.org"

// GeocodeService resolves coordinates into administrative places via the
// Nominatim reverse API. A read-through cache keyed by the rounded coordinate
// ensures at most one external lookup per distinct spot; the cache grows
// unbounded unless maxEntries is set. External calls are gated to 1 rps
// (Nominatim's usage policy) and retried with exponential backoff before
// degrading to ErrGeocodeUnresolved.
type GeocodeService struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu         sync.Mutex
	cache      map[string]*models.Location
	maxEntries int // 0 = unbounded

	maxRetries      uint64
	initialInterval time.Duration
}

func NewGeocodeService(baseURL string, maxEntries int) *GeocodeService {
	if baseURL == "" {
		baseURL = DefaultNominatimBaseURL
	}
	return &GeocodeService{
		baseURL:         baseURL,
		httpClient:      utils.HTTPClient,
		limiter:         rate.NewLimiter(rate.Every(time.Second), 1),
		cache:           make(map[string]*models.Location),
		maxEntries:      maxEntries,
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
	}
}

type nominatimResponse struct {
	Address struct {
		Country string `json:"country"`
		Region  string `json:"region"`
		State   string `json:"state"`
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
	} `json:"address"`
}

// Resolve returns the Location for a coordinate, from cache when possible.
// On failure after retries it returns ErrGeocodeUnresolved; the caller keeps
// the coordinate and persists a location without admin fields.
func (g *GeocodeService) Resolve(ctx context.Context, lat, lng float64) (*models.Location, error) {
	key := utils.CoordKey(lat, lng)

	g.mu.Lock()
	if loc, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return loc, nil
	}
	g.mu.Unlock()

	loc, err := g.fetchWithRetry(ctx, key, lat, lng)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.maxEntries > 0 && len(g.cache) >= g.maxEntries {
		g.evictOneLocked()
	}
	g.cache[key] = loc
	g.mu.Unlock()

	return loc, nil
}

// evictOneLocked drops an arbitrary entry. Coordinate lookups have no
// meaningful recency pattern across games, so random eviction is enough to
// bound memory in long-lived processes.
func (g *GeocodeService) evictOneLocked() {
	for k := range g.cache {
		delete(g.cache, k)
		return
	}
}

func (g *GeocodeService) fetchWithRetry(ctx context.Context, key string, lat, lng float64) (*models.Location, error) {
	var loc *models.Location

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.initialInterval

	operation := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		resolved, err := g.reverse(ctx, lat, lng)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		loc = resolved
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, g.maxRetries), ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrGeocodeUnresolved, key, err)
	}

	loc.LongLat = key
	return loc, nil
}

func (g *GeocodeService) reverse(ctx context.Context, lat, lng float64) (*models.Location, error) {
	u, err := url.Parse(g.baseURL + "/reverse")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lng))
	q.Set("format", "jsonv2")
	q.Set("accept-language", "en")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "geostats-pipeline")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim returned status %d", resp.StatusCode)
	}

	var data nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode nominatim response: %w", err)
	}

	city := data.Address.City
	if city == "" {
		city = data.Address.Town
	}
	if city == "" {
		city = data.Address.Village
	}

	loc := &models.Location{
		LocationID: uuid.NewString(),
		Country:    optional(data.Address.Country),
		Region:     optional(data.Address.Region),
		State:      optional(data.Address.State),
		City:       optional(city),
	}
	loc.PlaceKey = PlaceKey(loc)
	return loc, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PlaceKey builds the stable slug identifying a resolved place, e.g.
// "france-ile-de-france-paris". Unresolved locations have no place key.
func PlaceKey(loc *models.Location) string {
	var parts []string
	for _, p := range []*string{loc.Country, loc.State, loc.City} {
		if p != nil && *p != "" {
			parts = append(parts, *p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return slug.Make(strings.Join(parts, " "))
}

// CountryNameFromCode maps an upstream ISO country code ("fr") onto its
// English name ("France"). Used as a fallback for the correct location when
// geocoding is unresolved but the panorama carried a country code.
func CountryNameFromCode(code string) string {
	if code == "" {
		return ""
	}
	region, err := language.ParseRegion(code)
	if err != nil {
		return ""
	}
	return display.English.Regions().Name(region)
}

// EnrichMissing re-resolves locations that were persisted with coordinate
// only after an earlier degradation. Runs as a low-frequency scheduled job.
func (g *GeocodeService) EnrichMissing(ctx context.Context, db *gorm.DB, limit int) (int, error) {
	var locations []models.Location
	if err := db.Where("country IS NULL").Order("created_at").Limit(limit).Find(&locations).Error; err != nil {
		return 0, fmt.Errorf("failed to load unresolved locations: %w", err)
	}

	enriched := 0
	for i := range locations {
		if ctx.Err() != nil {
			return enriched, ctx.Err()
		}
		lat, lng, err := utils.ParseCoordKey(locations[i].LongLat)
		if err != nil {
			log.Printf("[GEOCODE] ⚠️ Unparseable coordinate on location %s: %v", locations[i].LocationID, err)
			continue
		}

		resolved, err := g.Resolve(ctx, lat, lng)
		if err != nil || !resolved.Resolved() {
			continue
		}

		updates := map[string]interface{}{
			"country":   resolved.Country,
			"region":    resolved.Region,
			"state":     resolved.State,
			"city":      resolved.City,
			"place_key": resolved.PlaceKey,
		}
		if err := db.Model(&models.Location{}).
			Where("location_id = ?", locations[i].LocationID).
			Updates(updates).Error; err != nil {
			log.Printf("[GEOCODE] ❌ Failed to update location %s: %v", locations[i].LocationID, err)
			continue
		}
		enriched++
	}

	if enriched > 0 {
		log.Printf("[GEOCODE] ✅ Enriched %d previously unresolved location(s)", enriched)
	}
	return enriched, nil
}
