// Package listing parses the regulator's listing pages into raw entries.
package listing

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

// DateLayout is the publication date format used in date header rows.
const DateLayout = "Jan 2, 2006"

const minTitleLength = 10

var dateInText = regexp.MustCompile(`[A-Za-z]{3} \d{1,2}, \d{4}`)

// Shape selects the markup conventions of a listing page.
type Shape int

// Supported listing shapes.
const (
	ShapePressRelease Shape = iota
	ShapeCircular
)

// ShapeFor returns the listing shape used for a document class.
func ShapeFor(class crawler.DocumentClass) Shape {
	if class == crawler.ClassCircular {
		return ShapeCircular
	}
	return ShapePressRelease
}

func (s Shape) String() string {
	if s == ShapeCircular {
		return "circular"
	}
	return "press_release"
}

// RowKind tags what a table row turned out to be.
type RowKind int

// Row kinds produced by ClassifyRow.
const (
	RowSkipped RowKind = iota
	RowDateHeader
	RowContent
)

// Row is the classification of a single table row.
type Row struct {
	Kind     RowKind
	DateText string
	Entry    crawler.RawEntry
	Skip     crawler.SkipReason
}

// ParseResult holds the entries of one listing page plus the rows that were skipped.
type ParseResult struct {
	Entries []crawler.RawEntry
	Skips   crawler.SkipCounts
}

// Parser extracts entries from one listing shape.
type Parser struct {
	shape      Shape
	normalizer crawler.Normalizer
	categories []string
}

// New builds a Parser. A nil categories slice uses DefaultCategories.
func New(shape Shape, normalizer crawler.Normalizer, categories []string) *Parser {
	if len(categories) == 0 {
		categories = DefaultCategories()
	}
	return &Parser{shape: shape, normalizer: normalizer, categories: categories}
}

// Shape returns the listing shape this parser handles.
func (p *Parser) Shape() Shape {
	return p.shape
}

// ParseTable walks the listing table in document order, carrying the most recent date
// header forward onto every entry until the next header.
func (p *Parser) ParseTable(page []byte, category string) (ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ParseResult{}, fmt.Errorf("parse listing html: %w", err)
	}
	result := ParseResult{Skips: crawler.SkipCounts{}}
	currentDate := ""
	p.rows(doc).Each(func(_ int, tr *goquery.Selection) {
		// Wrapper rows around nested tables are layout, not content.
		if tr.Find("tr").Length() > 0 {
			return
		}
		row := p.ClassifyRow(tr)
		switch row.Kind {
		case RowDateHeader:
			currentDate = row.DateText
		case RowContent:
			entry := row.Entry
			entry.Category = category
			entry.DateText = currentDate
			result.Entries = append(result.Entries, entry)
		default:
			result.Skips.Inc(row.Skip)
		}
	})
	return result, nil
}

func (p *Parser) rows(doc *goquery.Document) *goquery.Selection {
	if p.shape == ShapeCircular {
		table := doc.Find("table[width='100%']").First()
		if table.Length() == 0 {
			table = doc.Find("table").First()
		}
		return table.Find("tr")
	}
	return doc.Find("table tr")
}

// ClassifyRow decides whether a row is a date header, a content entry or noise.
// A row that faults during inspection is reported as malformed rather than propagating.
func (p *Parser) ClassifyRow(tr *goquery.Selection) (row Row) {
	defer func() {
		if recover() != nil {
			row = Row{Kind: RowSkipped, Skip: crawler.SkipMalformedRow}
		}
	}()

	cells := tr.Find("td")
	if cells.Length() == 0 {
		return Row{Kind: RowSkipped, Skip: crawler.SkipNoCells}
	}
	if header := tr.Find("td.tableheader"); header.Length() > 0 {
		if date := dateInText.FindString(header.First().Text()); date != "" {
			if _, err := time.Parse(DateLayout, date); err == nil {
				return Row{Kind: RowDateHeader, DateText: date}
			}
		}
		return Row{Kind: RowSkipped, Skip: crawler.SkipHeader}
	}
	first := collapseSpace(cells.First().Text())
	if _, err := time.Parse(DateLayout, first); err == nil {
		return Row{Kind: RowDateHeader, DateText: first}
	}

	title, titleHref := p.titleLink(tr)
	if title == "" {
		return Row{Kind: RowSkipped, Skip: crawler.SkipNoTitle}
	}
	docHref := p.documentLink(tr, titleHref)
	if docHref == "" {
		return Row{Kind: RowSkipped, Skip: crawler.SkipNoDocumentLink}
	}
	return Row{
		Kind: RowContent,
		Entry: crawler.RawEntry{
			Title:      title,
			DetailHref: titleHref,
			DocHref:    docHref,
		},
	}
}

func (p *Parser) titleLink(tr *goquery.Selection) (string, string) {
	if p.shape == ShapePressRelease {
		link := tr.Find("a.link2").First()
		text := collapseSpace(link.Text())
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if text != "" && href != "" {
			return text, href
		}
	}
	var title, titleHref string
	tr.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := collapseSpace(a.Text())
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if text == "" || href == "" || !qualifiesAsTitle(text) {
			return true
		}
		title, titleHref = text, href
		return false
	})
	return title, titleHref
}

func qualifiesAsTitle(text string) bool {
	if utf8.RuneCountInString(text) < minTitleLength {
		return false
	}
	switch strings.ToLower(text) {
	case "pdf", "download", "click here":
		return false
	}
	return true
}

func (p *Parser) documentLink(tr *goquery.Selection, titleHref string) string {
	if p.shape == ShapePressRelease {
		var href string
		tr.Find("a[target='_blank']").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			candidate := strings.TrimSpace(a.AttrOr("href", ""))
			if containsFold(candidate, ".pdf") {
				href = candidate
				return false
			}
			return true
		})
		if href != "" {
			return href
		}
	}
	return documentLinkPolicy(tr, titleHref)
}

// documentLinkPolicy prefers an explicit PDF or notification-redirect link (directly or via a
// PDF icon's enclosing anchor), then any other link that looks like a download.
func documentLinkPolicy(tr *goquery.Selection, titleHref string) string {
	var href string
	tr.Find("a, img").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		candidate := ""
		if goquery.NodeName(el) == "img" {
			if !containsFold(el.AttrOr("src", ""), "pdf") {
				return true
			}
			candidate = el.Closest("a").AttrOr("href", "")
		} else {
			candidate = el.AttrOr("href", "")
		}
		candidate = strings.TrimSpace(candidate)
		if isDocumentHref(candidate) {
			href = candidate
			return false
		}
		return true
	})
	if href != "" {
		return href
	}
	tr.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		candidate := strings.TrimSpace(a.AttrOr("href", ""))
		if candidate == "" || candidate == titleHref {
			return true
		}
		if isDocumentHref(candidate) || containsFold(candidate, "download") {
			href = candidate
			return false
		}
		return true
	})
	return href
}

func isDocumentHref(href string) bool {
	return containsFold(href, ".pdf") || containsFold(href, "getnotification")
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
