package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler/crawlertest"
	"github.com/JakeFAU/serp-visibility-crawler/internal/serp"
	"github.com/JakeFAU/serp-visibility-crawler/internal/storage/memory"
)

var now = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fakeRunner struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
	block chan struct{}
	seen  chan string
}

func (r *fakeRunner) Run(ctx context.Context, e crawler.TrackedEntity) (crawler.CrawlRun, error) {
	r.mu.Lock()
	r.calls = append(r.calls, e.Name)
	err := r.fail[e.Name]
	r.mu.Unlock()
	if r.seen != nil {
		r.seen <- e.Name
	}
	if r.block != nil {
		<-r.block
	}
	if err != nil {
		return crawler.CrawlRun{}, &crawler.CrawlFailedError{EntityID: e.ID, Cause: err}
	}
	return crawler.CrawlRun{ID: "run-" + e.Name, EntityID: e.ID, EntityName: e.Name, CapturedAt: now}, nil
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

func seedEntities(t *testing.T, names ...string) *memory.EntityStore {
	t.Helper()
	store := memory.NewEntityStore()
	for _, n := range names {
		e, err := store.CreateEntity(context.Background(), n)
		require.NoError(t, err)
		_, err = store.AddDomain(context.Background(), e.ID, n+".com")
		require.NoError(t, err)
	}
	return store
}

func newTestScheduler(t *testing.T, entities crawler.EntityReader, runner Runner, pub crawler.Publisher) (*Scheduler, *crawlertest.RecordingSleeper, *memory.ResultStore) {
	t.Helper()
	sleeper := &crawlertest.RecordingSleeper{}
	results := memory.NewResultStore()
	cfg := DefaultConfig()
	cfg.Topic = "crawl-runs"
	s, err := New(cfg, entities, runner, results, pub, sleeper, crawlertest.FixedClock{T: now}, nil)
	require.NoError(t, err)
	return s, sleeper, results
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(DefaultConfig(), nil, &fakeRunner{}, memory.NewResultStore(), nil, &crawlertest.RecordingSleeper{}, crawlertest.FixedClock{}, nil)
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.JitterMin, cfg.JitterMax = 10*time.Second, 5*time.Second
	_, err = New(cfg, memory.NewEntityStore(), &fakeRunner{}, memory.NewResultStore(), nil, &crawlertest.RecordingSleeper{}, crawlertest.FixedClock{}, nil)
	require.Error(t, err)
}

func TestRunBatchPassJitterBetweenEntitiesOnly(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s, sleeper, results := newTestScheduler(t, seedEntities(t, "acme", "beta", "gamma"), runner, nil)

	summary, err := s.RunBatchPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, PassSummary{Started: now, Finished: now, Succeeded: 3, Total: 3}, summary)
	require.Equal(t, []string{"acme", "beta", "gamma"}, runner.Calls())
	require.Equal(t, 3, results.Len())

	waits := sleeper.Waits()
	require.Len(t, waits, 2)
	for _, w := range waits {
		require.GreaterOrEqual(t, w, 5*time.Second)
		require.LessOrEqual(t, w, 10*time.Second)
	}
}

func TestRunBatchPassSingleEntityNoJitter(t *testing.T) {
	t.Parallel()

	s, sleeper, _ := newTestScheduler(t, seedEntities(t, "acme"), &fakeRunner{}, nil)
	_, err := s.RunBatchPass(context.Background())
	require.NoError(t, err)
	require.Empty(t, sleeper.Waits())
}

func TestRunBatchPassIsolatesFailures(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{fail: map[string]error{"beta": &crawler.RetryExhaustedError{Attempts: 3, Last: crawler.ErrTimeout}}}
	s, sleeper, results := newTestScheduler(t, seedEntities(t, "acme", "beta", "gamma"), runner, nil)

	summary, err := s.RunBatchPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, []string{"acme", "beta", "gamma"}, runner.Calls())

	_, ok := results.Get(2)
	require.False(t, ok)
	run, ok := results.Get(3)
	require.True(t, ok)
	require.Equal(t, "run-gamma", run.ID)
	require.Len(t, sleeper.Waits(), 2, "jitter applies after failures too")
}

func TestRunBatchPassCaptchaCooldown(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{fail: map[string]error{"acme": crawler.ErrCaptchaBlocked}}
	s, sleeper, _ := newTestScheduler(t, seedEntities(t, "acme", "beta"), runner, nil)

	summary, err := s.RunBatchPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)

	waits := sleeper.Waits()
	require.Len(t, waits, 2)
	require.Equal(t, 2*time.Minute, waits[0])
	require.GreaterOrEqual(t, waits[1], 5*time.Second)
}

func TestRunBatchPassKeepsPreviousRunOnFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s, _, results := newTestScheduler(t, seedEntities(t, "acme"), runner, nil)
	_, err := s.RunBatchPass(context.Background())
	require.NoError(t, err)

	runner.mu.Lock()
	runner.fail = map[string]error{"acme": crawler.ErrNoResultsFound}
	runner.mu.Unlock()
	_, err = s.RunBatchPass(context.Background())
	require.NoError(t, err)

	run, ok := results.Get(1)
	require.True(t, ok)
	require.Equal(t, "run-acme", run.ID)
}

func TestRunBatchPassAcmeEndToEnd(t *testing.T) {
	t.Parallel()

	entities := memory.NewEntityStore()
	acme, err := entities.CreateEntity(context.Background(), "Acme")
	require.NoError(t, err)
	_, err = entities.AddDomain(context.Background(), acme.ID, "acme.com")
	require.NoError(t, err)

	sleeper := &crawlertest.RecordingSleeper{}
	fetcher := crawlertest.NewScriptedFetcher().Script("Acme", crawlertest.Step{Candidates: []crawler.RawCandidate{
		{URL: "https://acme.com", Title: "Acme Home"},
		{URL: "https://other.com", Title: "Other"},
	}})
	retry, err := crawler.NewRetryPolicy(crawler.DefaultRetryConfig(), sleeper, nil)
	require.NoError(t, err)
	orch, err := crawler.NewOrchestrator(
		crawler.OrchestratorConfig{Region: "id"},
		fetcher,
		serp.NewExtractor(),
		&crawlertest.OpenGate{},
		retry,
		crawlertest.FixedClock{T: now},
		&crawlertest.SequenceIDs{},
		nil,
		nil,
		nil,
	)
	require.NoError(t, err)
	s, err := New(DefaultConfig(), entities, orch, memory.NewResultStore(), nil, sleeper, crawlertest.FixedClock{T: now}, nil)
	require.NoError(t, err)

	_, err = s.RunBatchPass(context.Background())
	require.NoError(t, err)

	run, ok := s.ResultFor(acme.ID)
	require.True(t, ok)
	require.Equal(t, 2, run.TotalResults)
	require.Equal(t, 1, run.OwnedCount)
	require.Equal(t, 1, run.NotOwnedCount)
	require.Equal(t, crawler.StatusOurs, run.Results[0].Status)
	require.Equal(t, crawler.StatusNotOurs, run.Results[1].Status)

	st := s.Status()
	require.False(t, st.IsRunning)
	require.Equal(t, 1, st.TotalEntities)
	require.NotNil(t, st.LastCapture)
	require.Equal(t, now, *st.LastCapture)
	require.NotNil(t, st.LastPass)
	require.Equal(t, 1, st.LastPass.Succeeded)
	require.Len(t, s.Results(), 1)
}

func TestRunBatchPassPublishesRuns(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "crawl-runs", mock.AnythingOfType("crawler.CrawlRun")).
		Return("", errors.New("unavailable")).Once()
	pub.On("Publish", mock.Anything, "crawl-runs", mock.AnythingOfType("crawler.CrawlRun")).
		Return("msg-2", nil).Once()

	s, _, results := newTestScheduler(t, seedEntities(t, "acme", "beta"), &fakeRunner{}, pub)
	summary, err := s.RunBatchPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Succeeded, "publish failures never fail the pass")
	require.Equal(t, 2, results.Len())
	pub.AssertExpectations(t)
}

func TestRunBatchPassListError(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t, failingReader{}, &fakeRunner{}, nil)
	_, err := s.RunBatchPass(context.Background())
	require.ErrorContains(t, err, "list entities")
}

func TestRunBatchPassAbortsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{}
	s, _, _ := newTestScheduler(t, seedEntities(t, "acme", "beta"), runner, nil)
	s.jitter = func() time.Duration {
		cancel()
		return time.Second
	}

	summary, err := s.RunBatchPass(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, []string{"acme"}, runner.Calls())
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{seen: make(chan string, 8)}
	s, _, _ := newTestScheduler(t, seedEntities(t, "acme"), runner, nil)

	started, err := s.Start(context.Background(), time.Hour)
	require.NoError(t, err)
	require.True(t, started)
	started, err = s.Start(context.Background(), time.Hour)
	require.NoError(t, err)
	require.False(t, started)
	require.True(t, s.Status().IsRunning)
	require.Equal(t, "1h0m0s", s.Status().Interval)

	select {
	case name := <-runner.seen:
		require.Equal(t, "acme", name)
	case <-time.After(5 * time.Second):
		t.Fatal("start did not trigger an immediate pass")
	}

	require.True(t, s.Stop())
	require.False(t, s.Stop())
	require.False(t, s.Status().IsRunning)
	s.Wait()
	require.Len(t, runner.Calls(), 1, "exactly one trigger fired")
}

func TestStartRejectsNonPositiveInterval(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t, seedEntities(t), &fakeRunner{}, nil)
	_, err := s.Start(context.Background(), 0)
	require.Error(t, err)
	require.False(t, s.Status().IsRunning)
}

func TestOverlappingTriggersAreSkipped(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: make(chan struct{}), seen: make(chan string, 8)}
	s, _, _ := newTestScheduler(t, seedEntities(t, "acme"), runner, nil)

	_, err := s.Start(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	<-runner.seen
	require.Eventually(t, func() bool { return s.Status().PassInProgress }, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	require.True(t, s.Stop())
	require.True(t, s.Status().PassInProgress, "stop does not abort a running pass")
	close(runner.block)
	s.Wait()

	require.Len(t, runner.Calls(), 1)
	require.False(t, s.Status().PassInProgress)
}

func TestStopPreventsFurtherPasses(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		runner := &fakeRunner{block: make(chan struct{}), seen: make(chan string, 8)}
		s, _, _ := newTestScheduler(t, seedEntities(t, "acme"), runner, nil)

		_, err := s.Start(context.Background(), time.Millisecond)
		require.NoError(t, err)
		<-runner.seen
		time.Sleep(5 * time.Millisecond)
		require.True(t, s.Stop())
		close(runner.block)
		s.Wait()

		require.Len(t, runner.Calls(), 1, "no pass may start after Stop returns")
		require.False(t, s.Status().IsRunning)
	}
}

type failingReader struct{}

func (failingReader) ListEntities(context.Context) ([]crawler.Entity, error) {
	return nil, errors.New("db down")
}

func (failingReader) GetEntity(context.Context, int64) (crawler.Entity, error) {
	return crawler.Entity{}, crawler.ErrNotFound
}

func (failingReader) ListOwnedDomains(context.Context, int64) ([]string, error) {
	return nil, errors.New("db down")
}
