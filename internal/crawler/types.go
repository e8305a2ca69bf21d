// Package crawler defines the search-visibility crawl core: domain types, the
// failure taxonomy, retry policy and the per-entity orchestrator.
package crawler

import "time"

// OwnershipStatus labels a search result relative to an entity's owned domains.
type OwnershipStatus string

// Ownership status values reported for each classified result.
const (
	StatusOurs    OwnershipStatus = "Ours"
	StatusNotOurs OwnershipStatus = "Not Ours"
)

// Entity is the persisted brand row as returned by the entity store.
type Entity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Domain is one owned-domain row attached to an entity.
type Domain struct {
	ID        int64     `json:"id"`
	EntityID  int64     `json:"entity_id"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// TrackedEntity is the snapshot of an entity used for a single crawl run.
type TrackedEntity struct {
	ID           int64
	Name         string
	OwnedDomains []string
}

// RawCandidate is an unfiltered link/title pair harvested from a results page.
type RawCandidate struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// SearchPage is what a single browser session returns for one query.
type SearchPage struct {
	Query      string
	Region     string
	SearchURL  string
	UserAgent  string
	Candidates []RawCandidate
	HTML       []byte
}

// SearchResult is one deduplicated organic result.
type SearchResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Domain   string `json:"domain"`
}

// ComparisonResult is a SearchResult classified against owned domains.
type ComparisonResult struct {
	SearchResult
	IsOwned bool            `json:"is_owned"`
	Status  OwnershipStatus `json:"status"`
}

// CrawlRun is the complete outcome of one entity's search-and-compare cycle.
// OwnedCount + NotOwnedCount == TotalResults == len(Results).
type CrawlRun struct {
	ID            string             `json:"id"`
	EntityID      int64              `json:"entity_id"`
	EntityName    string             `json:"entity_name"`
	CapturedAt    time.Time          `json:"captured_at"`
	TotalResults  int                `json:"total_results"`
	OwnedCount    int                `json:"owned_count"`
	NotOwnedCount int                `json:"not_owned_count"`
	Results       []ComparisonResult `json:"results"`
	SnapshotURI   string             `json:"snapshot_uri,omitempty"`
	// SnapshotSHA256 is the hex digest of the archived page.
	SnapshotSHA256 string `json:"snapshot_sha256,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate cached runs.
func (r CrawlRun) Clone() CrawlRun {
	cp := r
	if r.Results != nil {
		cp.Results = make([]ComparisonResult, len(r.Results))
		copy(cp.Results, r.Results)
	}
	return cp
}
