// Package store defines the persistent index of published story ids and the
// ledger of image-enrichment state.
package store

import (
	"context"
	"time"

	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// Store is the main interface for persisting sightings and enrichment state.
type Store interface {
	Close() error

	// Sightings
	Lookup(ctx context.Context, ids []string) (map[string]story.Sighting, error)
	RecordSightings(ctx context.Context, sightings []story.Sighting) error
	SetImage(ctx context.Context, id, day, imageURL string) error
	CountSightings(ctx context.Context) (int, error)

	// Enrichment ledger
	UpsertEnrichment(ctx context.Context, e Enrichment) error
	ListEnrichment(ctx context.Context, day string) ([]Enrichment, error)
}

// Enrichment is the last known image-enrichment state of one record in one
// day file. A repost kept in a later day has its own entry.
type Enrichment struct {
	ID        string
	Day       string
	State     string // NoImage, Requested, Attached, Failed
	Attempts  int
	LastError string
	ImageURL  string
	UpdatedAt time.Time
}

// Earlier reports whether sighting a predates b. It decides which sighting a
// store keeps for an id.
func Earlier(a, b story.Sighting) bool {
	return story.DayBefore(a.Day, b.Day)
}
