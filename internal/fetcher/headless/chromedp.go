// Package headless contains the browser-driven search fetcher.
package headless

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
	"github.com/JakeFAU/serp-visibility-crawler/internal/serp"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	EngineURL         string
	Language          string
	ResultsPerPage    int
	AcceptLanguages   []string
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	HumanDelayMin     time.Duration
	HumanDelayMax     time.Duration
	ExecPath          string
	NoSandbox         bool
}

// Fetcher implements crawler.SearchFetcher with chromedp. Every call runs in
// its own browser process and temporary profile.
type Fetcher struct {
	cfg     Config
	sleeper crawler.Sleeper
	logger  *zap.Logger
	pick    func(n int) int
}

// NewChromedp creates a headless search fetcher backed by chromedp.
func NewChromedp(cfg Config, sleeper crawler.Sleeper, logger *zap.Logger) (*Fetcher, error) {
	if sleeper == nil {
		return nil, errors.New("sleeper is required")
	}
	if cfg.HumanDelayMin > cfg.HumanDelayMax {
		return nil, fmt.Errorf("human delay min %s exceeds max %s", cfg.HumanDelayMin, cfg.HumanDelayMax)
	}
	if cfg.EngineURL == "" {
		cfg.EngineURL = "https://www.google.com/search"
	}
	if _, err := url.Parse(cfg.EngineURL); err != nil {
		return nil, fmt.Errorf("parse engine url: %w", err)
	}
	if cfg.ResultsPerPage <= 0 {
		cfg.ResultsPerPage = 15
	}
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = 8 * time.Second
	}
	if cfg.HumanDelayMax <= 0 {
		cfg.HumanDelayMin, cfg.HumanDelayMax = 2*time.Second, 4*time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:     cfg,
		sleeper: sleeper,
		logger:  logger,
		pick:    rand.Intn,
	}, nil
}

// ExecuteSearch runs one query in a fresh browser session. It fails with
// crawler.ErrTimeout, crawler.ErrNavigation or crawler.ErrBlockedByCaptcha.
// The session is torn down before ExecuteSearch returns.
func (f *Fetcher) ExecuteSearch(ctx context.Context, query, region string) (crawler.SearchPage, error) {
	fp := f.pickFingerprint()
	searchURL := f.buildSearchURL(query, region)
	logger := f.logger.With(zap.String("query", query), zap.String("viewport", fp.viewport.String()))
	logger.Debug("launching browser", zap.String("user_agent", truncate(fp.userAgent, 50)))

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, f.allocatorOptions(fp)...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	// The first Run starts the browser; it must not carry the navigation
	// deadline or the deadline would kill the browser.
	if err := chromedp.Run(browserCtx, f.fingerprintAction(fp)); err != nil {
		return crawler.SearchPage{}, f.classify(ctx, err, "start browser")
	}

	logger.Info("navigating", zap.String("url", searchURL))
	navCtx, navCancel := context.WithTimeout(browserCtx, f.navTimeout())
	err := chromedp.Run(navCtx,
		chromedp.Navigate(searchURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	navCancel()
	if err != nil {
		return crawler.SearchPage{}, f.classify(ctx, err, "navigate")
	}

	// Inspecting the page immediately is itself a blocking signal.
	if err := f.sleeper.Sleep(ctx, f.humanDelay()); err != nil {
		return crawler.SearchPage{}, fmt.Errorf("human delay: %w", err)
	}

	html, location, err := f.snapshot(browserCtx)
	if err != nil {
		return crawler.SearchPage{}, f.classify(ctx, err, "inspect page")
	}
	doc, err := serp.ParseDocument(html)
	if err != nil {
		return crawler.SearchPage{}, fmt.Errorf("%w: %v", crawler.ErrNavigation, err)
	}
	if serp.IsBlocked(doc, location) {
		logger.Warn("blocking page detected", zap.String("location", location))
		return crawler.SearchPage{}, crawler.ErrBlockedByCaptcha
	}

	if sel, ok := f.waitForResults(browserCtx); ok {
		logger.Debug("found results container", zap.String("selector", sel))
		if html, location, err = f.snapshot(browserCtx); err != nil {
			return crawler.SearchPage{}, f.classify(ctx, err, "read results")
		}
		if doc, err = serp.ParseDocument(html); err != nil {
			return crawler.SearchPage{}, fmt.Errorf("%w: %v", crawler.ErrNavigation, err)
		}
	} else {
		logger.Warn("no standard results container found, trying best-effort extraction")
	}

	candidates := serp.HarvestCandidates(doc, location, serp.MaxRawCandidates)
	logger.Debug("harvested candidates", zap.Int("count", len(candidates)))

	return crawler.SearchPage{
		Query:      query,
		Region:     region,
		SearchURL:  searchURL,
		UserAgent:  fp.userAgent,
		Candidates: candidates,
		HTML:       html,
	}, nil
}

func (f *Fetcher) fingerprintAction(fp fingerprint) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript(f.cfg.AcceptLanguages)).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(fp.viewport.Width, fp.viewport.Height, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		ua := emulation.SetUserAgentOverride(fp.userAgent)
		if lang := f.acceptLanguage(); lang != "" {
			ua = ua.WithAcceptLanguage(lang)
			if err := network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": lang}).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		if err := ua.Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// waitForResults probes the container selectors in priority order, each
// with its own bounded wait.
func (f *Fetcher) waitForResults(browserCtx context.Context) (string, bool) {
	for _, sel := range serp.ContainerSelectors {
		selCtx, cancel := context.WithTimeout(browserCtx, f.cfg.SelectorTimeout)
		err := chromedp.Run(selCtx, chromedp.WaitReady(sel, chromedp.ByQuery))
		cancel()
		if err == nil {
			return sel, true
		}
	}
	return "", false
}

func (f *Fetcher) snapshot(browserCtx context.Context) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(browserCtx, f.navTimeout())
	defer cancel()
	var (
		html     string
		location string
	)
	if err := chromedp.Run(ctx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, "", err
	}
	return []byte(html), location, nil
}

// classify maps a chromedp failure onto the fetch-level taxonomy.
func (f *Fetcher) classify(parent context.Context, err error, step string) error {
	if parentErr := parent.Err(); parentErr != nil {
		return fmt.Errorf("%s: %w", step, parentErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", step, crawler.ErrTimeout)
	}
	return fmt.Errorf("%s: %w: %v", step, crawler.ErrNavigation, err)
}

func (f *Fetcher) buildSearchURL(query, region string) string {
	params := url.Values{}
	params.Set("q", query)
	if region != "" {
		params.Set("gl", region)
	}
	if f.cfg.Language != "" {
		params.Set("hl", f.cfg.Language)
	}
	params.Set("num", strconv.Itoa(f.cfg.ResultsPerPage))
	sep := "?"
	if strings.Contains(f.cfg.EngineURL, "?") {
		sep = "&"
	}
	return f.cfg.EngineURL + sep + params.Encode()
}

func (f *Fetcher) humanDelay() time.Duration {
	span := f.cfg.HumanDelayMax - f.cfg.HumanDelayMin
	if span <= 0 {
		return f.cfg.HumanDelayMin
	}
	return f.cfg.HumanDelayMin + time.Duration(f.pick(int(span/time.Millisecond)+1))*time.Millisecond
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func (f *Fetcher) acceptLanguage() string {
	return strings.Join(f.cfg.AcceptLanguages, ",")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
