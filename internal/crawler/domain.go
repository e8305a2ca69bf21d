package crawler

import (
	"net/url"
	"strings"
)

// CanonicalDomain normalizes a domain or URL so owned domains and result
// domains compare equal: lower-cased hostname without scheme, leading "www."
// or trailing slash. The result is a fixed point: CanonicalDomain(CanonicalDomain(d)) == CanonicalDomain(d).
func CanonicalDomain(raw string) string {
	d := raw
	for {
		next := canonicalOnce(d)
		if next == d {
			return d
		}
		d = next
	}
}

func canonicalOnce(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
		if u, err := url.Parse(d); err == nil && u.Hostname() != "" {
			d = u.Hostname()
		}
	}
	for strings.HasPrefix(d, "www.") {
		d = strings.TrimPrefix(d, "www.")
	}
	return strings.TrimRight(d, "/")
}

// DomainSet is a set of canonical domains.
type DomainSet map[string]struct{}

// NewDomainSet canonicalizes every entry once; empty entries are skipped.
func NewDomainSet(domains []string) DomainSet {
	set := make(DomainSet, len(domains))
	for _, d := range domains {
		c := CanonicalDomain(d)
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	return set
}

// Contains reports whether the canonical form of domain is in the set.
func (s DomainSet) Contains(domain string) bool {
	_, ok := s[CanonicalDomain(domain)]
	return ok
}
