// Package serp turns a rendered search engine results page into ranked,
// deduplicated organic results.
package serp

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
)

const (
	// MaxResults caps the number of unique domains kept per extraction.
	MaxResults = 10
	// MaxRawCandidates is how many admissible candidates a page harvest collects.
	MaxRawCandidates = 11
)

// Extractor implements crawler.Extractor.
type Extractor struct {
	max int
}

// NewExtractor creates an extractor keeping at most MaxResults results.
func NewExtractor() *Extractor {
	return &Extractor{max: MaxResults}
}

// Extract filters candidates, drops later duplicates of a domain and
// renumbers positions from 1. An empty slice is a valid result.
func (e *Extractor) Extract(candidates []crawler.RawCandidate) []crawler.SearchResult {
	limit := e.max
	if limit <= 0 {
		limit = MaxResults
	}
	seen := make(map[string]struct{}, limit)
	out := make([]crawler.SearchResult, 0, limit)
	for _, c := range candidates {
		if len(out) == limit {
			break
		}
		res, ok := toResult(c)
		if !ok {
			continue
		}
		if _, dup := seen[res.Domain]; dup {
			continue
		}
		seen[res.Domain] = struct{}{}
		res.Position = len(out) + 1
		out = append(out, res)
	}
	return out
}

// Admissible reports whether a candidate survives the filter chain.
func Admissible(c crawler.RawCandidate) bool {
	_, ok := toResult(c)
	return ok
}

// toResult applies the filters in order: absolute http(s) link, not an engine
// endpoint, non-empty title, parseable hostname.
func toResult(c crawler.RawCandidate) (crawler.SearchResult, bool) {
	link := strings.TrimSpace(c.URL)
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return crawler.SearchResult{}, false
	}
	if isEngineEndpoint(link) {
		return crawler.SearchResult{}, false
	}
	title := strings.TrimSpace(c.Title)
	if title == "" {
		return crawler.SearchResult{}, false
	}
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return crawler.SearchResult{}, false
	}
	domain := crawler.CanonicalDomain(u.Hostname())
	if domain == "" {
		return crawler.SearchResult{}, false
	}
	return crawler.SearchResult{Title: title, URL: link, Domain: domain}, true
}

var engineEndpoints = []string{
	"google.com/search",
	"google.com/url",
	"webcache.googleusercontent.com",
	"translate.google.com",
}

func isEngineEndpoint(link string) bool {
	lower := strings.ToLower(link)
	for _, marker := range engineEndpoints {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
