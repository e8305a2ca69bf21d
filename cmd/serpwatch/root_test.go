package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-visibility-crawler/internal/config"
	"github.com/JakeFAU/serp-visibility-crawler/internal/server"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlRejectsInvalidEntityID(t *testing.T) {
	_, err := execute(t, "crawl", "abc")
	require.ErrorContains(t, err, `invalid entity id "abc"`)

	_, err = execute(t, "crawl")
	require.Error(t, err)
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := execute(t, "pass", "--config", "/nonexistent/serpwatch.yaml")
	require.ErrorContains(t, err, "load config")
}

func TestPassPrintsSummary(t *testing.T) {
	t.Setenv("CRAWLER_LOGGING_LEVEL", "error")
	t.Setenv("CRAWLER_STORAGE_BACKEND", config.BackendLocal)
	t.Setenv("CRAWLER_STORAGE_LOCAL_BASE_DIR", t.TempDir())

	var built bool
	orig := buildApp
	buildApp = func(ctx context.Context, cfg config.Config) (*server.App, error) {
		built = true
		require.Equal(t, "error", cfg.Logging.Level)
		return server.Build(ctx, cfg)
	}
	t.Cleanup(func() { buildApp = orig })

	out, err := execute(t, "pass")
	require.NoError(t, err)
	require.True(t, built)
	require.Contains(t, out, "pass finished: 0 succeeded, 0 failed, 0 total")
}
