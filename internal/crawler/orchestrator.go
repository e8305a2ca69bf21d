package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-visibility-crawler/internal/metrics"
)

const tracerName = "github.com/JakeFAU/serp-visibility-crawler/internal/crawler"

// OrchestratorConfig holds deployment-fixed crawl settings.
type OrchestratorConfig struct {
	Region         string
	SnapshotPrefix string
}

// Orchestrator runs one entity's full search-and-compare cycle.
type Orchestrator struct {
	cfg       OrchestratorConfig
	fetcher   SearchFetcher
	extractor Extractor
	gate      Gate
	retry     *RetryPolicy
	clock     Clock
	ids       IDGenerator
	snapshots BlobStore
	hasher    Hasher
	logger    *zap.Logger
}

// NewOrchestrator wires the crawl pipeline. snapshots and hasher may be nil.
func NewOrchestrator(
	cfg OrchestratorConfig,
	fetcher SearchFetcher,
	extractor Extractor,
	gate Gate,
	retry *RetryPolicy,
	clock Clock,
	ids IDGenerator,
	snapshots BlobStore,
	hasher Hasher,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if fetcher == nil || extractor == nil || gate == nil || retry == nil || clock == nil || ids == nil {
		return nil, errors.New("orchestrator: fetcher, extractor, gate, retry, clock and ids are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		gate:      gate,
		retry:     retry,
		clock:     clock,
		ids:       ids,
		snapshots: snapshots,
		hasher:    hasher,
		logger:    logger,
	}, nil
}

// Run searches for entity.Name and classifies every result against the
// entity's owned domains. It either returns a complete CrawlRun or a
// *CrawlFailedError wrapping the terminal cause.
func (o *Orchestrator) Run(ctx context.Context, entity TrackedEntity) (CrawlRun, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "crawler.Run", trace.WithAttributes(
		attribute.Int64("entity.id", entity.ID),
		attribute.String("entity.name", entity.Name),
	))
	defer span.End()

	owned := NewDomainSet(entity.OwnedDomains)
	logger := o.logger.With(zap.Int64("entity_id", entity.ID), zap.String("entity", entity.Name))
	logger.Info("crawl started", zap.Int("owned_domains", len(owned)))

	attempt, err := o.retry.Do(ctx, func(ctx context.Context, n int) (AttemptResult, error) {
		return o.attempt(ctx, entity.Name, n)
	})
	if err != nil {
		metrics.ObserveCrawlRun(FailureReason(err))
		logger.Error("crawl failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, FailureReason(err))
		return CrawlRun{}, &CrawlFailedError{EntityID: entity.ID, Cause: err}
	}

	runID, err := o.ids.NewID()
	if err != nil {
		metrics.ObserveCrawlRun("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "run id")
		return CrawlRun{}, &CrawlFailedError{EntityID: entity.ID, Cause: fmt.Errorf("generate run id: %w", err)}
	}

	run := Classify(entity, attempt.Results, owned)
	run.ID = runID
	run.CapturedAt = o.clock.Now()
	run.SnapshotURI = o.archive(ctx, logger, entity.ID, runID, attempt.Page.HTML)
	if run.SnapshotURI != "" && o.hasher != nil {
		digest, err := o.hasher.Hash(attempt.Page.HTML)
		if err != nil {
			logger.Warn("snapshot digest failed", zap.String("uri", run.SnapshotURI), zap.Error(err))
		} else {
			run.SnapshotSHA256 = digest
		}
	}

	metrics.ObserveCrawlRun("ok")
	metrics.ObserveOwnedShare(run.OwnedCount, run.TotalResults)
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.total", run.TotalResults),
		attribute.Int("run.owned", run.OwnedCount),
	)
	logger.Info("crawl finished",
		zap.Int("total", run.TotalResults),
		zap.Int("owned", run.OwnedCount),
		zap.Int("not_owned", run.NotOwnedCount),
	)
	return run, nil
}

// attempt performs one gated fetch followed by extraction. ExecuteSearch has
// released its browser session by the time it returns, on every path.
func (o *Orchestrator) attempt(ctx context.Context, query string, n int) (AttemptResult, error) {
	if err := o.gate.Acquire(ctx); err != nil {
		return AttemptResult{}, fmt.Errorf("rate limit: %w", err)
	}
	page, err := o.fetcher.ExecuteSearch(ctx, query, o.cfg.Region)
	if err != nil {
		metrics.ObserveFetchAttempt(FailureReason(err))
		return AttemptResult{}, fmt.Errorf("attempt %d: %w", n, err)
	}
	results := o.extractor.Extract(page.Candidates)
	o.logger.Debug("extracted results",
		zap.String("query", query),
		zap.Int("raw", len(page.Candidates)),
		zap.Int("unique", len(results)),
	)
	if len(results) == 0 {
		metrics.ObserveFetchAttempt(FailureReason(ErrExtractionEmpty))
	} else {
		metrics.ObserveFetchAttempt("ok")
	}
	return AttemptResult{Page: page, Results: results}, nil
}

func (o *Orchestrator) archive(ctx context.Context, logger *zap.Logger, entityID int64, runID string, html []byte) string {
	if o.snapshots == nil || len(html) == 0 {
		return ""
	}
	key := path.Join(strings.Trim(o.cfg.SnapshotPrefix, "/"), strconv.FormatInt(entityID, 10), runID+".html")
	uri, err := o.snapshots.PutObject(ctx, key, "text/html; charset=utf-8", bytes.NewReader(html))
	if err != nil {
		logger.Warn("snapshot archive failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return uri
}

// Classify compares results with the canonical owned-domain set and builds
// the counted run. ID and CapturedAt are left for the caller.
func Classify(entity TrackedEntity, results []SearchResult, owned DomainSet) CrawlRun {
	classified := make([]ComparisonResult, 0, len(results))
	ownedCount := 0
	for _, r := range results {
		isOwned := owned.Contains(r.Domain)
		status := StatusNotOurs
		if isOwned {
			status = StatusOurs
			ownedCount++
		}
		classified = append(classified, ComparisonResult{SearchResult: r, IsOwned: isOwned, Status: status})
	}
	return CrawlRun{
		EntityID:      entity.ID,
		EntityName:    entity.Name,
		TotalResults:  len(classified),
		OwnedCount:    ownedCount,
		NotOwnedCount: len(classified) - ownedCount,
		Results:       classified,
	}
}
