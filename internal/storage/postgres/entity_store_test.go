package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*EntityStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewEntityStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewEntityStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewEntityStoreWithPool(nil)
	require.Error(t, err)
}

func TestNewEntityStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewEntityStore(context.Background(), EntityStoreConfig{})
	require.Error(t, err)
}

func TestListEntitiesOrderedByID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT id, name, created_at, updated_at FROM entities ORDER BY id ASC").
		WillReturnRows(mock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
			AddRow(int64(1), "Acme", now, now).
			AddRow(int64(2), "Beta", now, now))

	got, err := store.ListEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Acme", got[0].Name)
	require.Equal(t, int64(2), got[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListOwnedDomains(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT domain FROM entity_domains").
		WithArgs(int64(7)).
		WillReturnRows(mock.NewRows([]string{"domain"}).AddRow("acme.com").AddRow("www.acme.co.id"))

	got, err := store.ListOwnedDomains(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []string{"acme.com", "www.acme.co.id"}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntityNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, name, created_at, updated_at FROM entities WHERE id").
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetEntity(context.Background(), 9)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEntityConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO entities").
		WithArgs("Acme").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := store.CreateEntity(context.Background(), "  Acme ")
	require.ErrorIs(t, err, crawler.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEntity(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("INSERT INTO entities").
		WithArgs("Acme").
		WillReturnRows(mock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
			AddRow(int64(3), "Acme", now, now))

	got, err := store.CreateEntity(context.Background(), "Acme")
	require.NoError(t, err)
	require.Equal(t, int64(3), got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddDomainNormalizes(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT id, name, created_at, updated_at FROM entities WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(mock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
			AddRow(int64(1), "Acme", now, now))
	mock.ExpectQuery("INSERT INTO entity_domains").
		WithArgs(int64(1), "acme.com").
		WillReturnRows(mock.NewRows([]string{"id", "entity_id", "domain", "created_at"}).
			AddRow(int64(10), int64(1), "acme.com", now))

	got, err := store.AddDomain(context.Background(), 1, " ACME.com ")
	require.NoError(t, err)
	require.Equal(t, "acme.com", got.Domain)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddDomainUnknownEntity(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, name, created_at, updated_at FROM entities WHERE id").
		WithArgs(int64(5)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.AddDomain(context.Background(), 5, "acme.com")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteEntityNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM entities").
		WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := store.DeleteEntity(context.Background(), 4)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDomain(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM entity_domains").
		WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.DeleteDomain(context.Background(), 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEntitiesQueryError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, name").WillReturnError(errors.New("boom"))

	_, err := store.ListEntities(context.Background())
	require.ErrorContains(t, err, "list entities")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entities").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
