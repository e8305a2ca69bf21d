package crawler

import (
	"context"
	"io"
	"time"
)

// SearchFetcher drives one isolated browser session per call and returns the
// raw candidates found on the engine's results page.
type SearchFetcher interface {
	ExecuteSearch(ctx context.Context, query, region string) (SearchPage, error)
}

// Extractor turns raw candidates into ranked, deduplicated results.
type Extractor interface {
	Extract(candidates []RawCandidate) []SearchResult
}

// Gate spaces out engine requests; every fetch must pass through it.
type Gate interface {
	Acquire(ctx context.Context) error
}

// EntityReader is the read side of the persistence collaborator.
type EntityReader interface {
	ListEntities(ctx context.Context) ([]Entity, error)
	GetEntity(ctx context.Context, id int64) (Entity, error)
	ListOwnedDomains(ctx context.Context, entityID int64) ([]string, error)
}

// EntityStore adds the CRUD operations used by the HTTP layer.
type EntityStore interface {
	EntityReader
	CreateEntity(ctx context.Context, name string) (Entity, error)
	RenameEntity(ctx context.Context, id int64, name string) (Entity, error)
	DeleteEntity(ctx context.Context, id int64) error
	ListDomains(ctx context.Context, entityID int64) ([]Domain, error)
	AddDomain(ctx context.Context, entityID int64, domain string) (Domain, error)
	DeleteDomain(ctx context.Context, domainID int64) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes content digests for archived snapshots.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration unless the context ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
