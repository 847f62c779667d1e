// Package store provides thread-safe, in-memory storage for campaigns and
// webhook registrations.
//
// Design rationale: campaign metadata is small and read-heavy, so an
// in-memory store with a geohash secondary index is sufficient for demo and
// small-scale production loads. Nearby lookups scan only the candidate cells
// produced by the geospatial index instead of every campaign. A production
// deployment would swap this for Postgres/PostGIS behind the same methods.
package store

import (
	"errors"
	"strings"
	"sync"
	"time"

	"waypoint/georeward-api/internal/domain"
	"waypoint/georeward-api/internal/geo"
)

// ErrDuplicateCampaign is returned when a campaign ID is saved twice.
var ErrDuplicateCampaign = errors.New("campaign already exists")

// Store is a thread-safe in-memory data store.
type Store struct {
	mu sync.RWMutex

	campaigns map[string]*domain.Campaign
	webhooks  map[string]*domain.WebhookConfig

	// Secondary index: precision-7 geohash cell → campaign IDs in that cell.
	// Maintained on every write so nearby lookups stay fast.
	byGeohash map[string][]string
}

// New creates an empty, ready-to-use Store.
func New() *Store {
	return &Store{
		campaigns: make(map[string]*domain.Campaign),
		webhooks:  make(map[string]*domain.WebhookConfig),
		byGeohash: make(map[string][]string),
	}
}

// ─── Campaigns ────────────────────────────────────────────────────────────────

// SaveCampaign persists a campaign and indexes it by its geofence cell.
// The campaign's Geohash field is (re)computed here so callers never need
// to supply it. Returns ErrDuplicateCampaign if the ID already exists.
func (s *Store) SaveCampaign(c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.campaigns[c.ID]; exists {
		return ErrDuplicateCampaign
	}

	c.Geohash = geo.Encode(c.Coordinates, geo.DefaultPrecision)
	s.campaigns[c.ID] = c
	s.byGeohash[c.Geohash] = append(s.byGeohash[c.Geohash], c.ID)
	return nil
}

// GetCampaign retrieves a single campaign by ID.
func (s *Store) GetCampaign(id string) (*domain.Campaign, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	return c, ok
}

// DeleteCampaign removes a campaign and its index entry.
// Returns false if not found.
func (s *Store) DeleteCampaign(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.campaigns[id]
	if !exists {
		return false
	}
	delete(s.campaigns, id)

	ids := s.byGeohash[c.Geohash]
	for i, cid := range ids {
		if cid == id {
			s.byGeohash[c.Geohash] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byGeohash[c.Geohash]) == 0 {
		delete(s.byGeohash, c.Geohash)
	}
	return true
}

// ListCampaigns returns every stored campaign in arbitrary order.
func (s *Store) ListCampaigns() []*domain.Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		result = append(result, c)
	}
	return result
}

// FindNearby returns active, unexpired campaigns whose geofence overlaps a
// circle of radiusMeters around center. It scans only the geohash cells the
// geospatial index nominates for the radius, then confirms with an exact
// haversine check.
func (s *Store) FindNearby(center domain.Coordinate, radiusMeters float64) []*domain.Campaign {
	cells := geo.GeohashesForRadius(center, radiusMeters)

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	seen := make(map[string]bool)
	var result []*domain.Campaign

	for cell, ids := range s.byGeohash {
		if !matchesAnyCell(cell, cells) {
			continue
		}
		for _, id := range ids {
			c := s.campaigns[id]
			if seen[c.ID] || !c.Active || c.ExpiresAt.Before(now) {
				continue
			}
			if geo.Distance(center, c.Coordinates) <= radiusMeters+c.RadiusMeters {
				seen[c.ID] = true
				result = append(result, c)
			}
		}
	}
	return result
}

// matchesAnyCell reports whether an indexed precision-7 cell falls inside
// any candidate cell. Candidates may be coarser than the index for large
// radii, so the match is by prefix.
func matchesAnyCell(indexed string, candidates []string) bool {
	for _, c := range candidates {
		if strings.HasPrefix(indexed, c) {
			return true
		}
	}
	return false
}

// ─── Webhooks ─────────────────────────────────────────────────────────────────

// SaveWebhook persists a webhook configuration.
func (s *Store) SaveWebhook(wh *domain.WebhookConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[wh.ID] = wh
}

// DeleteWebhook removes a webhook by ID. Returns false if not found.
func (s *Store) DeleteWebhook(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.webhooks[id]
	if exists {
		delete(s.webhooks, id)
	}
	return exists
}

// ListActiveWebhooks returns all webhooks that are currently active.
func (s *Store) ListActiveWebhooks() []*domain.WebhookConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.WebhookConfig
	for _, wh := range s.webhooks {
		if wh.Active {
			result = append(result, wh)
		}
	}
	return result
}
