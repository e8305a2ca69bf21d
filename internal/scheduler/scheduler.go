// Package scheduler runs recurring batch passes over every tracked entity and
// keeps the latest CrawlRun per entity.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
	"github.com/JakeFAU/serp-visibility-crawler/internal/logging"
	"github.com/JakeFAU/serp-visibility-crawler/internal/metrics"
)

// Runner crawls one entity.
type Runner interface {
	Run(ctx context.Context, entity crawler.TrackedEntity) (crawler.CrawlRun, error)
}

// ResultStore keeps the latest run per entity.
type ResultStore interface {
	Put(run crawler.CrawlRun)
	Get(entityID int64) (crawler.CrawlRun, bool)
	All() []crawler.CrawlRun
	Len() int
	LatestCapture() (time.Time, bool)
}

// Config tunes pacing between entities within a pass.
type Config struct {
	JitterMin     time.Duration
	JitterMax     time.Duration
	BlockCooldown time.Duration
	// Topic receives one notification per stored run when a publisher is set.
	Topic string
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		JitterMin:     5 * time.Second,
		JitterMax:     10 * time.Second,
		BlockCooldown: 2 * time.Minute,
	}
}

// PassSummary describes one completed batch pass.
type PassSummary struct {
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
}

// Status is the scheduler's externally visible state.
type Status struct {
	IsRunning      bool         `json:"is_running"`
	PassInProgress bool         `json:"pass_in_progress"`
	Interval       string       `json:"interval,omitempty"`
	TotalEntities  int          `json:"total_entities_searched"`
	LastCapture    *time.Time   `json:"last_capture"`
	LastPass       *PassSummary `json:"last_pass,omitempty"`
}

// Scheduler owns the recurring trigger and the result cache.
type Scheduler struct {
	cfg       Config
	entities  crawler.EntityReader
	runner    Runner
	results   ResultStore
	publisher crawler.Publisher
	sleeper   crawler.Sleeper
	clock     crawler.Clock
	logger    *zap.Logger
	jitter    func() time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	interval time.Duration
	lastPass *PassSummary

	// pass is held for the duration of a batch pass; passes never overlap.
	pass       sync.Mutex
	inProgress atomic.Bool
	inFlight   sync.WaitGroup
}

// New constructs a stopped Scheduler. publisher may be nil.
func New(
	cfg Config,
	entities crawler.EntityReader,
	runner Runner,
	results ResultStore,
	publisher crawler.Publisher,
	sleeper crawler.Sleeper,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Scheduler, error) {
	if entities == nil || runner == nil || results == nil || sleeper == nil || clock == nil {
		return nil, errors.New("scheduler: entities, runner, results, sleeper and clock are required")
	}
	if cfg.JitterMin < 0 || cfg.JitterMax < cfg.JitterMin {
		return nil, fmt.Errorf("scheduler: invalid jitter range %s..%s", cfg.JitterMin, cfg.JitterMax)
	}
	logger = logging.OrNop(logger)
	s := &Scheduler{
		cfg:       cfg,
		entities:  entities,
		runner:    runner,
		results:   results,
		publisher: publisher,
		sleeper:   sleeper,
		clock:     clock,
		logger:    logger.Named("scheduler"),
	}
	s.jitter = s.randomJitter
	return s, nil
}

// Start schedules an immediate pass and then one every interval. Passes run
// with ctx, so only ctx cancellation interrupts one mid-flight. It reports
// false when the scheduler was already running.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) (bool, error) {
	if interval <= 0 {
		return false, fmt.Errorf("interval must be positive, got %s", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.logger.Info("scheduler already running")
		return false, nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.interval = interval
	metrics.SetSchedulerRunning(true)
	s.logger.Info("scheduler started", zap.Duration("interval", interval))

	s.inFlight.Add(1)
	go s.loop(loopCtx, ctx, interval)
	return true, nil
}

// Stop cancels the recurring trigger. A pass already executing runs to
// completion. It reports false when the scheduler was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	s.interval = 0
	metrics.SetSchedulerRunning(false)
	s.logger.Info("scheduler stopped")
	return true
}

// Wait blocks until the trigger loop and any pass it started have returned.
func (s *Scheduler) Wait() {
	s.inFlight.Wait()
}

// Status reports whether the trigger is active and what the cache holds.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{IsRunning: s.cancel != nil}
	if s.interval > 0 {
		st.Interval = s.interval.String()
	}
	if s.lastPass != nil {
		p := *s.lastPass
		st.LastPass = &p
	}
	s.mu.Unlock()

	st.PassInProgress = s.inProgress.Load()
	st.TotalEntities = s.results.Len()
	if ts, ok := s.results.LatestCapture(); ok {
		st.LastCapture = &ts
	}
	return st
}

// Results returns every stored run, each carrying its entity id.
func (s *Scheduler) Results() []crawler.CrawlRun {
	return s.results.All()
}

// ResultFor returns the stored run for one entity.
func (s *Scheduler) ResultFor(entityID int64) (crawler.CrawlRun, bool) {
	return s.results.Get(entityID)
}

func (s *Scheduler) loop(loopCtx, passCtx context.Context, interval time.Duration) {
	defer s.inFlight.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.trigger(loopCtx, passCtx)
	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			if loopCtx.Err() != nil {
				return
			}
			s.trigger(loopCtx, passCtx)
		}
	}
}

// trigger starts a pass unless one is already executing or the loop that
// fired it has been stopped.
func (s *Scheduler) trigger(loopCtx, passCtx context.Context) {
	if !s.pass.TryLock() {
		s.logger.Warn("previous batch pass still running, skipping trigger")
		metrics.ObserveBatchPass("skipped", 0)
		return
	}
	// Stop cancels loopCtx under mu, so a pass either starts before Stop
	// returns or not at all.
	s.mu.Lock()
	if loopCtx.Err() != nil {
		s.mu.Unlock()
		s.pass.Unlock()
		return
	}
	s.inFlight.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.inFlight.Done()
		defer s.pass.Unlock()
		if _, err := s.runPass(passCtx); err != nil {
			s.logger.Error("batch pass aborted", zap.Error(err))
		}
	}()
}

// RunBatchPass crawls every entity once, in ascending id order, waiting for
// any pass already executing to finish first.
func (s *Scheduler) RunBatchPass(ctx context.Context) (PassSummary, error) {
	s.pass.Lock()
	defer s.pass.Unlock()
	return s.runPass(ctx)
}

func (s *Scheduler) runPass(ctx context.Context) (PassSummary, error) {
	s.inProgress.Store(true)
	defer s.inProgress.Store(false)
	ctx, span := otel.Tracer("github.com/JakeFAU/serp-visibility-crawler/internal/scheduler").Start(ctx, "scheduler.BatchPass")
	defer span.End()
	summary := PassSummary{Started: s.clock.Now()}
	entities, err := s.entities.ListEntities(ctx)
	if err != nil {
		metrics.ObserveBatchPass("error", 0)
		return summary, fmt.Errorf("list entities: %w", err)
	}
	summary.Total = len(entities)
	span.SetAttributes(attribute.Int("pass.entities", len(entities)))
	if len(entities) == 0 {
		s.logger.Info("no entities to search")
	} else {
		s.logger.Info("batch pass started", zap.Int("entities", len(entities)))
	}

	for i, e := range entities {
		logger := s.logger.With(
			zap.String("progress", fmt.Sprintf("%d/%d", i+1, len(entities))),
			zap.Int64("entity_id", e.ID),
			zap.String("entity", e.Name),
		)
		if err := s.crawlOne(ctx, logger, e); err != nil {
			summary.Failed++
			logger.Warn("entity failed", zap.String("reason", crawler.FailureReason(err)), zap.Error(err))
			if errors.Is(err, crawler.ErrCaptchaBlocked) {
				logger.Warn("blocking detected, cooling down", zap.Duration("wait", s.cfg.BlockCooldown))
				if werr := s.sleeper.Sleep(ctx, s.cfg.BlockCooldown); werr != nil {
					return s.finish(summary, "aborted"), fmt.Errorf("block cooldown: %w", werr)
				}
			}
		} else {
			summary.Succeeded++
		}

		if i < len(entities)-1 {
			wait := s.jitter()
			logger.Debug("waiting before next entity", zap.Duration("wait", wait))
			if werr := s.sleeper.Sleep(ctx, wait); werr != nil {
				return s.finish(summary, "aborted"), fmt.Errorf("inter-entity jitter: %w", werr)
			}
		}
	}

	summary = s.finish(summary, "completed")
	s.logger.Info("batch pass completed",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("total", summary.Total),
	)
	return summary, nil
}

func (s *Scheduler) crawlOne(ctx context.Context, logger *zap.Logger, e crawler.Entity) error {
	owned, err := s.entities.ListOwnedDomains(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("list owned domains: %w", err)
	}
	logger.Info("processing entity", zap.Int("owned_domains", len(owned)))

	run, err := s.runner.Run(ctx, crawler.TrackedEntity{ID: e.ID, Name: e.Name, OwnedDomains: owned})
	if err != nil {
		return err
	}
	s.results.Put(run)
	logger.Info("entity searched", zap.Int("results", run.TotalResults), zap.Int("owned", run.OwnedCount))
	s.notify(ctx, logger, run)
	return nil
}

func (s *Scheduler) notify(ctx context.Context, logger *zap.Logger, run crawler.CrawlRun) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, run); err != nil {
		metrics.ObservePublishFailure()
		logger.Warn("publish crawl run failed", zap.Error(err))
	}
}

func (s *Scheduler) finish(summary PassSummary, outcome string) PassSummary {
	summary.Finished = s.clock.Now()
	metrics.ObserveBatchPass(outcome, summary.Finished.Sub(summary.Started))
	s.mu.Lock()
	s.lastPass = &summary
	s.mu.Unlock()
	return summary
}

func (s *Scheduler) randomJitter() time.Duration {
	span := s.cfg.JitterMax - s.cfg.JitterMin
	if span <= 0 {
		return s.cfg.JitterMin
	}
	return s.cfg.JitterMin + time.Duration(rand.Int63n(int64(span+1)))
}
