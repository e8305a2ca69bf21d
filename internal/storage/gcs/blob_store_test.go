package gcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client is required")
}

func TestOpenRequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{Bucket: "  "})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestURI(t *testing.T) {
	t.Parallel()

	require.Equal(t, "gs://snapshots/serp/1/run.html", URI("snapshots", "serp/1/run.html"))
	require.Equal(t, "gs://snapshots/serp/1/run.html", URI("snapshots", "/serp/1/run.html"))
}

func TestCloseNotOwned(t *testing.T) {
	t.Parallel()

	var s *BlobStore
	require.NoError(t, s.Close())
	require.NoError(t, (&BlobStore{}).Close())
}
