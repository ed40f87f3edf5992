package listing

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

const (
	minFuzzyTextLength    = 16
	minSharedWords        = 2
	minSignificantWordLen = 4
)

var defaultCategories = []string{
	"Banker and Debt Manager to Government",
	"Banker to Banks",
	"Banker to Governments and Banks",
	"Co-operative Banking",
	"Commercial Banking",
	"Financial Inclusion and Development",
	"Financial Market",
	"Foreign Exchange Management",
	"Issuer of Currency",
	"Non-banking",
	"Payment and Settlement System",
	"Primary Dealers",
}

var categorySkipPatterns = []string{"home", "notifications", "master circulars", "http", "mailto"}

// DefaultCategories returns the circular categories crawled when none are configured.
func DefaultCategories() []string {
	out := make([]string, len(defaultCategories))
	copy(out, defaultCategories)
	return out
}

// ParseCategories collects sidebar links whose text matches the category allow-list, in
// page order and de-duplicated by resolved URL.
func (p *Parser) ParseCategories(page []byte) ([]crawler.CategoryLink, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse category html: %w", err)
	}
	seen := make(map[string]struct{})
	var links []crawler.CategoryLink
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		text := collapseSpace(a.Text())
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if text == "" || !isFetchableHref(href) {
			return
		}
		if !p.matchesCategory(text) || hasSkipPattern(text) {
			return
		}
		resolved := p.normalizer.Resolve(href)
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, crawler.CategoryLink{Name: text, URL: resolved})
	})
	return links, nil
}

func (p *Parser) matchesCategory(text string) bool {
	for _, category := range p.categories {
		if strings.EqualFold(category, text) {
			return true
		}
		if fuzzyCategoryMatch(category, text) {
			return true
		}
	}
	return false
}

// fuzzyCategoryMatch tolerates the site's inconsistent punctuation and suffixes on labels by
// requiring long link text that shares at least two significant words with the category.
func fuzzyCategoryMatch(category, text string) bool {
	if len([]rune(text)) < minFuzzyTextLength {
		return false
	}
	lowerText := strings.ToLower(text)
	shared := 0
	for _, word := range strings.Fields(category) {
		if len([]rune(word)) < minSignificantWordLen {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(word)) {
			shared++
		}
	}
	return shared >= minSharedWords
}

func isFetchableHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	lower := strings.ToLower(href)
	return !strings.HasPrefix(lower, "mailto:") && !strings.HasPrefix(lower, "javascript:")
}

func hasSkipPattern(text string) bool {
	lower := strings.ToLower(text)
	for _, pattern := range categorySkipPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
