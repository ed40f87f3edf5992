package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultScriptRoot is where the regulator serves its listing scripts. Hrefs without a
// scheme or leading slash are relative to it, not to the domain root.
const DefaultScriptRoot = "https://rbi.org.in/Scripts/"

// Normalizer turns raw listing hrefs into the canonical absolute form used for dedup and storage.
type Normalizer struct {
	origin     string
	scriptRoot string
}

// NewNormalizer builds a Normalizer from the source base URL and its script root.
// An empty scriptRoot defaults to "<origin>/Scripts/".
func NewNormalizer(baseURL, scriptRoot string) (Normalizer, error) {
	origin, err := originOf(baseURL)
	if err != nil {
		return Normalizer{}, err
	}
	if strings.TrimSpace(scriptRoot) == "" {
		scriptRoot = origin + "/Scripts/"
	}
	if !hasHTTPScheme(scriptRoot) {
		return Normalizer{}, fmt.Errorf("script root %q must be absolute", scriptRoot)
	}
	if !strings.HasSuffix(scriptRoot, "/") {
		scriptRoot += "/"
	}
	return Normalizer{origin: origin, scriptRoot: scriptRoot}, nil
}

// NormalizeLink resolves rawHref against the page it was found on: the page's origin for
// root-relative hrefs and the page's directory for everything else.
func NormalizeLink(rawHref, pageURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	dir := u.Path
	if idx := strings.LastIndex(dir, "/"); idx >= 0 {
		dir = dir[:idx+1]
	} else {
		dir = "/"
	}
	n, err := NewNormalizer(pageURL, u.Scheme+"://"+u.Host+dir)
	if err != nil {
		return "", err
	}
	return n.Normalize(rawHref), nil
}

// Resolve applies the resolution rules in order without canonicalizing case:
// absolute hrefs are kept, root-relative hrefs get the origin, the rest get the script root.
func (n Normalizer) Resolve(rawHref string) string {
	href := strings.TrimSpace(rawHref)
	switch {
	case href == "":
		return ""
	case hasHTTPScheme(href):
		return href
	case strings.HasPrefix(href, "/"):
		return n.origin + href
	default:
		return n.scriptRoot + href
	}
}

// Normalize returns the canonical link: resolved, trimmed and lowercased.
func (n Normalizer) Normalize(rawHref string) string {
	return strings.ToLower(strings.TrimSpace(n.Resolve(rawHref)))
}

// Origin returns scheme://host of the source.
func (n Normalizer) Origin() string {
	return n.origin
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func originOf(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
