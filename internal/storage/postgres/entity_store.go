// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// EntityStoreConfig controls the Postgres connection pool used for entity rows.
type EntityStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// EntityStore reads and writes tracked entities and their owned domains.
type EntityStore struct {
	pool querier
}

// NewEntityStore creates a Postgres-backed EntityStore using the provided config.
func NewEntityStore(ctx context.Context, cfg EntityStoreConfig) (*EntityStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &EntityStore{pool: pool}, nil
}

// NewEntityStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEntityStoreWithPool(pool querier) (*EntityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &EntityStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *EntityStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *EntityStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the entity tables when they do not exist yet.
func (s *EntityStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ListEntities returns every entity ordered by ascending id.
func (s *EntityStore) ListEntities(ctx context.Context) ([]crawler.Entity, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at, updated_at FROM entities ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	out := make([]crawler.Entity, 0)
	for rows.Next() {
		var e crawler.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// GetEntity fetches an entity by id.
func (s *EntityStore) GetEntity(ctx context.Context, id int64) (crawler.Entity, error) {
	var e crawler.Entity
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM entities WHERE id = $1`, id,
	).Scan(&e.ID, &e.Name, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return crawler.Entity{}, mapErr(fmt.Sprintf("get entity %d", id), err)
	}
	return e, nil
}

// CreateEntity inserts a new entity. Names are unique.
func (s *EntityStore) CreateEntity(ctx context.Context, name string) (crawler.Entity, error) {
	var e crawler.Entity
	err := s.pool.QueryRow(ctx,
		`INSERT INTO entities (name) VALUES ($1) RETURNING id, name, created_at, updated_at`,
		strings.TrimSpace(name),
	).Scan(&e.ID, &e.Name, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return crawler.Entity{}, mapErr("create entity", err)
	}
	return e, nil
}

// RenameEntity updates an entity's name.
func (s *EntityStore) RenameEntity(ctx context.Context, id int64, name string) (crawler.Entity, error) {
	var e crawler.Entity
	err := s.pool.QueryRow(ctx,
		`UPDATE entities SET name = $1, updated_at = now() WHERE id = $2 RETURNING id, name, created_at, updated_at`,
		strings.TrimSpace(name), id,
	).Scan(&e.ID, &e.Name, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return crawler.Entity{}, mapErr(fmt.Sprintf("rename entity %d", id), err)
	}
	return e, nil
}

// DeleteEntity removes an entity; its domains go with it.
func (s *EntityStore) DeleteEntity(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete entity %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete entity %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// ListDomains returns the domain rows of an entity ordered by id.
func (s *EntityStore) ListDomains(ctx context.Context, entityID int64) ([]crawler.Domain, error) {
	if _, err := s.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, domain, created_at FROM entity_domains WHERE entity_id = $1 ORDER BY id ASC`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	out := make([]crawler.Domain, 0)
	for rows.Next() {
		var d crawler.Domain
		if err := rows.Scan(&d.ID, &d.EntityID, &d.Domain, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domains: %w", err)
	}
	return out, nil
}

// ListOwnedDomains returns the raw domain strings of an entity.
func (s *EntityStore) ListOwnedDomains(ctx context.Context, entityID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT domain FROM entity_domains WHERE entity_id = $1 ORDER BY id ASC`, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list owned domains: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan owned domain: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owned domains: %w", err)
	}
	return out, nil
}

// AddDomain attaches a domain to an entity. The value is stored trimmed and
// lower-cased and must be unique per entity.
func (s *EntityStore) AddDomain(ctx context.Context, entityID int64, domain string) (crawler.Domain, error) {
	if _, err := s.GetEntity(ctx, entityID); err != nil {
		return crawler.Domain{}, err
	}
	var d crawler.Domain
	err := s.pool.QueryRow(ctx,
		`INSERT INTO entity_domains (entity_id, domain) VALUES ($1, $2) RETURNING id, entity_id, domain, created_at`,
		entityID, strings.ToLower(strings.TrimSpace(domain)),
	).Scan(&d.ID, &d.EntityID, &d.Domain, &d.CreatedAt)
	if err != nil {
		return crawler.Domain{}, mapErr("add domain", err)
	}
	return d, nil
}

// DeleteDomain removes a domain row.
func (s *EntityStore) DeleteDomain(ctx context.Context, domainID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entity_domains WHERE id = $1`, domainID)
	if err != nil {
		return fmt.Errorf("delete domain %d: %w", domainID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete domain %d: %w", domainID, crawler.ErrNotFound)
	}
	return nil
}

func mapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, crawler.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, crawler.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
