// Package crawlertest provides deterministic collaborators for crawl tests.
package crawlertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
)

// RecordingSleeper records every requested wait and returns immediately.
type RecordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

// Sleep records d. It still honors an already-canceled ctx.
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Waits returns the recorded durations in call order.
func (s *RecordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// FixedClock always reports the same instant.
type FixedClock struct {
	T time.Time
}

// Now returns c.T.
func (c FixedClock) Now() time.Time { return c.T }

// SequenceIDs yields run-1, run-2, ...
type SequenceIDs struct {
	mu sync.Mutex
	n  int
}

// NewID returns the next sequential id.
func (g *SequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("run-%d", g.n), nil
}

// OpenGate admits every caller immediately and counts admissions.
type OpenGate struct {
	mu    sync.Mutex
	calls int
}

// Acquire counts the call.
func (g *OpenGate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return ctx.Err()
}

// Calls reports how many times Acquire ran.
func (g *OpenGate) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Step is one scripted fetch outcome.
type Step struct {
	Candidates []crawler.RawCandidate
	HTML       []byte
	Err        error
}

// ScriptedFetcher replays Steps per query. Once a query's script is used up
// its last step repeats; a query without a script fails with ErrNavigation.
type ScriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]Step
	calls   map[string]int
	order   []string
}

// NewScriptedFetcher returns an empty fetcher.
func NewScriptedFetcher() *ScriptedFetcher {
	return &ScriptedFetcher{scripts: make(map[string][]Step), calls: make(map[string]int)}
}

// Script sets the steps for query and returns f for chaining.
func (f *ScriptedFetcher) Script(query string, steps ...Step) *ScriptedFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[query] = steps
	return f
}

// ExecuteSearch implements crawler.SearchFetcher.
func (f *ScriptedFetcher) ExecuteSearch(ctx context.Context, query, region string) (crawler.SearchPage, error) {
	if err := ctx.Err(); err != nil {
		return crawler.SearchPage{}, err
	}
	f.mu.Lock()
	steps := f.scripts[query]
	n := f.calls[query]
	f.calls[query] = n + 1
	f.order = append(f.order, query)
	f.mu.Unlock()

	if len(steps) == 0 {
		return crawler.SearchPage{}, fmt.Errorf("%w: no script for %q", crawler.ErrNavigation, query)
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	step := steps[n]
	if step.Err != nil {
		return crawler.SearchPage{}, step.Err
	}
	return crawler.SearchPage{
		Query:      query,
		Region:     region,
		Candidates: step.Candidates,
		HTML:       step.HTML,
	}, nil
}

// Calls reports how many searches ran for query.
func (f *ScriptedFetcher) Calls(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[query]
}

// Order returns every searched query in call order.
func (f *ScriptedFetcher) Order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}
