// Package discovery runs crawl cycles: it turns listing entries into new document records.
package discovery

import (
	"strings"
	"time"

	"github.com/vinay10110/FinCompilance/internal/clock/system"
	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/identity"
	"github.com/vinay10110/FinCompilance/internal/listing"
)

// Builder normalizes raw entries and filters out links already known.
type Builder struct {
	normalizer crawler.Normalizer
	clock      crawler.Clock
}

// NewBuilder constructs a Builder.
func NewBuilder(normalizer crawler.Normalizer, clock crawler.Clock) *Builder {
	if clock == nil {
		clock = system.New()
	}
	return &Builder{normalizer: normalizer, clock: clock}
}

// Build returns a record for entries whose canonical link is not in known.
// Press releases are keyed by their detail page, circulars by their document link.
func (b *Builder) Build(class crawler.DocumentClass, entry crawler.RawEntry, known crawler.KnownLinkSet) (crawler.DocumentRecord, crawler.SkipReason) {
	detailLink := b.normalizer.Normalize(entry.DetailHref)
	documentLink := b.normalizer.Normalize(entry.DocHref)

	canonical := detailLink
	if class == crawler.ClassCircular {
		canonical = documentLink
	}
	if canonical == "" {
		return crawler.DocumentRecord{}, crawler.SkipEmptyLink
	}
	if known.Contains(canonical) {
		return crawler.DocumentRecord{}, crawler.SkipDuplicate
	}

	scraped := system.Date(b.clock.Now())
	record := crawler.DocumentRecord{
		Class:         class,
		Identifier:    identity.Identifier(canonical),
		CanonicalLink: canonical,
		Title:         strings.TrimSpace(entry.Title),
		DocumentLink:  documentLink,
		DatePublished: publishedDate(entry.DateText, scraped),
		DateScraped:   scraped,
	}
	if class == crawler.ClassCircular {
		record.Category = entry.Category
	}
	return record, crawler.SkipNone
}

func publishedDate(dateText string, fallback time.Time) time.Time {
	if dateText == "" {
		return fallback
	}
	parsed, err := time.Parse(listing.DateLayout, dateText)
	if err != nil {
		return fallback
	}
	return parsed.UTC()
}
