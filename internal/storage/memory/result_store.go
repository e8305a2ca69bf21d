package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
)

// ResultStore keeps the latest CrawlRun per entity. It lives only as long as
// the process.
type ResultStore struct {
	mu   sync.RWMutex
	runs map[int64]crawler.CrawlRun
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{runs: make(map[int64]crawler.CrawlRun)}
}

// Put stores run under its entity id, replacing any earlier run.
func (s *ResultStore) Put(run crawler.CrawlRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.EntityID] = run.Clone()
}

// Get returns the stored run for entityID.
func (s *ResultStore) Get(entityID int64) (crawler.CrawlRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[entityID]
	if !ok {
		return crawler.CrawlRun{}, false
	}
	return run.Clone(), true
}

// All returns a snapshot of every stored run, ordered by entity id.
func (s *ResultStore) All() []crawler.CrawlRun {
	s.mu.RLock()
	out := make([]crawler.CrawlRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Len reports how many entities have a stored run.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// LatestCapture returns the most recent CapturedAt across all runs. The
// boolean is false when the store is empty.
func (s *ResultStore) LatestCapture() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest time.Time
		found  bool
	)
	for _, run := range s.runs {
		if !found || run.CapturedAt.After(latest) {
			latest = run.CapturedAt
			found = true
		}
	}
	return latest, found
}
