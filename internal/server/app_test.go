package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-visibility-crawler/internal/config"
	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
	memorystorage "github.com/JakeFAU/serp-visibility-crawler/internal/storage/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.Local.BaseDir = t.TempDir()
	return cfg
}

func TestBuildDefaultsToInMemoryCollaborators(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	require.IsType(t, &memorystorage.EntityStore{}, app.entities)
	require.Nil(t, app.pgStore)
	require.Nil(t, app.pubsub)
	require.NotNil(t, app.orchestrator)
	require.NotNil(t, app.Logger())
	require.NoError(t, app.ready(context.Background()))
}

func TestBuildRejectsBadLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.Level = "loud"
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "logger init failed")
}

func TestCrawlUnknownEntity(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	_, err = app.Crawl(context.Background(), 42)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestRunPassWithoutEntities(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	summary, err := app.RunPass(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Total)
	require.Zero(t, summary.Failed)
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = 0
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
