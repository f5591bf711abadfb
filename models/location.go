// models/location.go
package models

import (
	"time"
)

// Location is a geocoded place. Identity is the rounded "lat, lng" pair in
// LongLat, so rounds guessing the same spot share one row. All admin fields
// are best-effort: a location that could not be resolved keeps only its
// coordinate and gets re-attempted by the enrichment job later.
// Table name: location
type Location struct {
	LocationID string    `json:"location_id" gorm:"column:location_id;primaryKey;type:uuid"`
	LongLat    string    `json:"long_lat" gorm:"column:long_lat;uniqueIndex;not null"` // "lat, lng", 4 decimal places
	Country    *string   `json:"country,omitempty"`
	City       *string   `json:"city,omitempty"`
	State      *string   `json:"state,omitempty"`
	Region     *string   `json:"region,omitempty"`
	PlaceKey   string    `json:"place_key" gorm:"index"` // slug of country/state/city, "" when unresolved
	CreatedAt  time.Time `json:"created_at"`
}

func (Location) TableName() string { return "location" }

// Resolved reports whether the geocoder produced at least a country.
func (l *Location) Resolved() bool {
	return l != nil && l.Country != nil && *l.Country != ""
}
