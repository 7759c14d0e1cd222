// Package memstore is an in-memory store for tests and one-off runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cognicore/dailyintel/pkg/dailyintel/store"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// Store implements store.Store in memory.
type Store struct {
	mu         sync.RWMutex
	sightings  map[string]story.Sighting
	enrichment map[enrichmentKey]store.Enrichment
	now        func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sightings:  make(map[string]story.Sighting),
		enrichment: make(map[enrichmentKey]store.Enrichment),
		now:        time.Now,
	}
}

var _ store.Store = (*Store)(nil)

type enrichmentKey struct{ id, day string }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Lookup returns the stored sighting for each known id.
func (s *Store) Lookup(ctx context.Context, ids []string) (map[string]story.Sighting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]story.Sighting)
	for _, id := range ids {
		if sg, ok := s.sightings[id]; ok {
			out[id] = sg
		}
	}
	return out, nil
}

// RecordSightings keeps the earliest sighting per id.
func (s *Store) RecordSightings(ctx context.Context, sightings []story.Sighting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sg := range sightings {
		cur, ok := s.sightings[sg.ID]
		if !ok || store.Earlier(sg, cur) {
			if sg.ImageURL == "" && ok {
				sg.ImageURL = cur.ImageURL
			}
			s.sightings[sg.ID] = sg
		}
	}
	return nil
}

// SetImage records the image of id when it was first seen on day.
func (s *Store) SetImage(ctx context.Context, id, day, imageURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sg, ok := s.sightings[id]; ok && sg.Day == day {
		sg.ImageURL = imageURL
		s.sightings[id] = sg
	}
	return nil
}

// CountSightings returns the number of known ids.
func (s *Store) CountSightings(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sightings), nil
}

// UpsertEnrichment stores e, stamping UpdatedAt when unset.
func (s *Store) UpsertEnrichment(ctx context.Context, e store.Enrichment) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrichment[enrichmentKey{e.ID, e.Day}] = e
	return nil
}

// ListEnrichment returns the states recorded for day, ordered by id. An empty
// day lists everything, ordered by id then day.
func (s *Store) ListEnrichment(ctx context.Context, day string) ([]store.Enrichment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Enrichment
	for _, e := range s.enrichment {
		if day == "" || e.Day == day {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Day < out[j].Day
	})
	return out, nil
}
