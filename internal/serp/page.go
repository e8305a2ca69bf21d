package serp

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
)

// ContainerSelectors are probed in priority order to find the results block.
var ContainerSelectors = []string{"#search", "#rso", ".g", "div.g"}

// ResultSelectors are candidate result-element selectors; the one with the
// most matches wins.
var ResultSelectors = []string{".g", "div[data-hveid]", ".tF2Cxc"}

var blockingPhrases = []string{
	"unusual traffic",
	"our systems have detected",
}

// ParseDocument parses rendered HTML.
func ParseDocument(html []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}
	return doc, nil
}

// IsBlocked reports whether the page is a challenge page rather than results.
func IsBlocked(doc *goquery.Document, location string) bool {
	if strings.Contains(location, "/sorry/") {
		return true
	}
	if doc.Find(`iframe[src*="recaptcha"]`).Length() > 0 {
		return true
	}
	text := strings.ToLower(doc.Find("body").Text())
	for _, phrase := range blockingPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// HarvestCandidates walks the best-matching result elements in document
// order and collects up to limit admissible candidates. Relative links are
// resolved against base.
func HarvestCandidates(doc *goquery.Document, base string, limit int) []crawler.RawCandidate {
	elements := bestSelection(doc)
	if elements == nil {
		return nil
	}
	baseURL, _ := url.Parse(base)

	out := make([]crawler.RawCandidate, 0, limit)
	elements.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		href, ok := el.Find("a[href]").First().Attr("href")
		if !ok {
			return true
		}
		candidate := crawler.RawCandidate{
			URL:   resolve(baseURL, href),
			Title: strings.TrimSpace(el.Find("h3").First().Text()),
		}
		if Admissible(candidate) {
			out = append(out, candidate)
		}
		return len(out) < limit
	})
	return out
}

func bestSelection(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	for _, sel := range ResultSelectors {
		found := doc.Find(sel)
		if found.Length() == 0 {
			continue
		}
		if best == nil || found.Length() > best.Length() {
			best = found
		}
	}
	return best
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
