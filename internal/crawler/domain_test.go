package crawler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalDomain(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"acme.com":                    "acme.com",
		"ACME.com":                    "acme.com",
		"www.acme.com":                "acme.com",
		"https://www.Acme.com/":       "acme.com",
		"http://shop.acme.com/path?q": "shop.acme.com",
		"acme.com/":                   "acme.com",
		"  www.acme.com//  ":          "acme.com",
		"www.www.acme.com":            "acme.com",
		"www.https://acme.com":        "acme.com",
		"":                            "",
	}
	for in, want := range cases {
		require.Equal(t, want, CanonicalDomain(in), "input %q", in)
	}
}

func TestCanonicalDomainIdempotentAndCaseInsensitive(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"acme.com", "WWW.ACME.COM", "https://WWW.acme.com/", "http:///", "www.", "/",
		"HTTP://www.Example.org:8080/a/", "www.http://www.x.io", "sub.www.acme.com", "ünïcode.Test",
	}
	for _, in := range inputs {
		once := CanonicalDomain(in)
		require.Equal(t, once, CanonicalDomain(once), "not idempotent for %q", in)
		require.Equal(t, once, CanonicalDomain(strings.ToUpper(in)), "case sensitive for %q", in)
	}
}

func TestDomainSetContains(t *testing.T) {
	t.Parallel()

	set := NewDomainSet([]string{"https://www.acme.com/", "", "Acme.co.id"})
	require.Len(t, set, 2)
	require.True(t, set.Contains("acme.com"))
	require.True(t, set.Contains("WWW.ACME.CO.ID"))
	require.False(t, set.Contains("other.com"))
}
