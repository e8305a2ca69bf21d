package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
)

// EntityStore provides an in-memory implementation for development/testing.
type EntityStore struct {
	mu        sync.RWMutex
	entities  map[int64]crawler.Entity
	domains   map[int64]crawler.Domain
	nextID    int64
	nextDomID int64
	now       func() time.Time
}

// NewEntityStore constructs an empty EntityStore.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		entities: make(map[int64]crawler.Entity),
		domains:  make(map[int64]crawler.Domain),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListEntities returns every entity ordered by ascending id.
func (s *EntityStore) ListEntities(_ context.Context) ([]crawler.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetEntity fetches an entity by id.
func (s *EntityStore) GetEntity(_ context.Context, id int64) (crawler.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return crawler.Entity{}, fmt.Errorf("entity %d: %w", id, crawler.ErrNotFound)
	}
	return e, nil
}

// CreateEntity stores a new entity. Names are unique.
func (s *EntityStore) CreateEntity(_ context.Context, name string) (crawler.Entity, error) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entities {
		if e.Name == name {
			return crawler.Entity{}, fmt.Errorf("entity %q: %w", name, crawler.ErrConflict)
		}
	}
	s.nextID++
	now := s.now()
	e := crawler.Entity{ID: s.nextID, Name: name, CreatedAt: now, UpdatedAt: now}
	s.entities[e.ID] = e
	return e, nil
}

// RenameEntity updates an entity's name.
func (s *EntityStore) RenameEntity(_ context.Context, id int64, name string) (crawler.Entity, error) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return crawler.Entity{}, fmt.Errorf("entity %d: %w", id, crawler.ErrNotFound)
	}
	for _, other := range s.entities {
		if other.ID != id && other.Name == name {
			return crawler.Entity{}, fmt.Errorf("entity %q: %w", name, crawler.ErrConflict)
		}
	}
	e.Name = name
	e.UpdatedAt = s.now()
	s.entities[id] = e
	return e, nil
}

// DeleteEntity removes an entity and its domains.
func (s *EntityStore) DeleteEntity(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; !ok {
		return fmt.Errorf("entity %d: %w", id, crawler.ErrNotFound)
	}
	delete(s.entities, id)
	for domID, d := range s.domains {
		if d.EntityID == id {
			delete(s.domains, domID)
		}
	}
	return nil
}

// ListDomains returns the domain rows of an entity ordered by id.
func (s *EntityStore) ListDomains(_ context.Context, entityID int64) ([]crawler.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.entities[entityID]; !ok {
		return nil, fmt.Errorf("entity %d: %w", entityID, crawler.ErrNotFound)
	}
	return s.domainsFor(entityID), nil
}

// ListOwnedDomains returns the raw domain strings of an entity.
func (s *EntityStore) ListOwnedDomains(ctx context.Context, entityID int64) ([]string, error) {
	rows, err := s.ListDomains(ctx, entityID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, d := range rows {
		out[i] = d.Domain
	}
	return out, nil
}

// AddDomain attaches a domain to an entity. The value is stored trimmed and
// lower-cased and must be unique per entity.
func (s *EntityStore) AddDomain(_ context.Context, entityID int64, domain string) (crawler.Domain, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[entityID]; !ok {
		return crawler.Domain{}, fmt.Errorf("entity %d: %w", entityID, crawler.ErrNotFound)
	}
	for _, d := range s.domains {
		if d.EntityID == entityID && d.Domain == domain {
			return crawler.Domain{}, fmt.Errorf("domain %q: %w", domain, crawler.ErrConflict)
		}
	}
	s.nextDomID++
	d := crawler.Domain{ID: s.nextDomID, EntityID: entityID, Domain: domain, CreatedAt: s.now()}
	s.domains[d.ID] = d
	return d, nil
}

// DeleteDomain removes a domain row.
func (s *EntityStore) DeleteDomain(_ context.Context, domainID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[domainID]; !ok {
		return fmt.Errorf("domain %d: %w", domainID, crawler.ErrNotFound)
	}
	delete(s.domains, domainID)
	return nil
}

func (s *EntityStore) domainsFor(entityID int64) []crawler.Domain {
	out := make([]crawler.Domain, 0)
	for _, d := range s.domains {
		if d.EntityID == entityID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
