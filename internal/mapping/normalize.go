package mapping

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeDomain reduces a URL or bare domain to its lower-cased host:
// scheme, leading "www.", port, path, query and fragment are removed.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return ""
	}
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, ".")
}

// NormalizeEmail trims and lower-cases an address. Values without a single
// "@" separating non-empty parts normalize to "".
func NormalizeEmail(raw string) string {
	e := strings.ToLower(strings.TrimSpace(raw))
	local, domain, ok := strings.Cut(e, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return ""
	}
	return e
}

// NormalizeLinkedInURL canonicalizes a LinkedIn profile or company URL to
// https://linkedin.com/<path> with no query, fragment or trailing slash.
func NormalizeLinkedInURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "linkedin.com" || strings.HasSuffix(host, ".linkedin.com") {
		host = "linkedin.com"
	}
	path := strings.TrimRight(strings.ToLower(u.EscapedPath()), "/")
	return "https://" + host + path
}

// FoldName returns the matching key for a company name: NFKC-normalized,
// case-folded, with runs of whitespace collapsed.
func FoldName(name string) string {
	s := norm.NFKC.String(strings.TrimSpace(name))
	if s == "" {
		return ""
	}
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// notFoundMarkers are provider values meaning "no email found".
var notFoundMarkers = map[string]bool{
	"not_found": true,
	"not found": true,
	"notfound":  true,
	"n/a":       true,
	"none":      true,
}

// IsNotFound reports whether v is an empty or explicit not-found marker.
func IsNotFound(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "" || notFoundMarkers[v]
}
