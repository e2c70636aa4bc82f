package queue

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a source URL for duplicate detection: scheme
// and host lowercased, scheme forced to https, "www." prefix dropped,
// fragment dropped, trailing path slash dropped. Two URLs that differ only
// in those respects queue the same article.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", raw, err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	parsed.Scheme = "https"
	parsed.Host = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")

	return parsed.String(), nil
}

// DomainOf extracts the normalized host of a URL, used for grouping
// feed-sourced items into per-domain folders. Returns "" when the URL is
// unusable.
func DomainOf(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}
