// Package slack posts discovery digests to a Slack incoming webhook.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/metrics"
)

const (
	maxTitleRunes   = 80
	circularLimit   = 5
	pressLimit      = 3
	defaultUsername = "FinCompliance Bot"
	defaultIcon     = ":bank:"
)

// Config holds the webhook settings.
type Config struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Username   string        `mapstructure:"username"`
	IconEmoji  string        `mapstructure:"icon_emoji"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Notifier implements crawler.Notifier over a webhook.
type Notifier struct {
	cfg    Config
	client *http.Client
}

// New validates cfg.
func New(cfg Config) (*Notifier, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("notify.slack.webhook_url is required")
	}
	if cfg.Username == "" {
		cfg.Username = defaultUsername
	}
	if cfg.IconEmoji == "" {
		cfg.IconEmoji = defaultIcon
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Notifier{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Notify posts a digest for records; empty batches send nothing.
func (n *Notifier) Notify(ctx context.Context, class crawler.DocumentClass, records []crawler.DocumentRecord) error {
	if len(records) == 0 {
		return nil
	}
	title, body := Digest(class, records)
	msg := &slack.WebhookMessage{
		Username:  n.cfg.Username,
		IconEmoji: n.cfg.IconEmoji,
		Text:      "*" + title + "*\n" + body,
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.cfg.WebhookURL, n.client, msg); err != nil {
		metrics.ObserveNotification("slack", "error")
		return fmt.Errorf("post slack digest: %w", err)
	}
	metrics.ObserveNotification("slack", "sent")
	return nil
}

// Digest renders the title and body for a batch: circulars list up to five entries with their
// category, press releases up to three.
func Digest(class crawler.DocumentClass, records []crawler.DocumentRecord) (string, string) {
	count := len(records)
	noun, limit, heading := "press release", pressLimit, "📰 New RBI Press Release"
	if class == crawler.ClassCircular {
		noun, limit, heading = "circular", circularLimit, "🏦 New RBI Circular"
	}

	title := heading + plural(count) + " Available"
	lines := []string{fmt.Sprintf("Found %d new %s%s:", count, noun, plural(count)), ""}
	for _, r := range records[:min(count, limit)] {
		if class == crawler.ClassCircular {
			category := r.Category
			if category == "" {
				category = "Unknown"
			}
			lines = append(lines, "• *"+category+"*", "  "+truncate(r.Title))
		} else {
			lines = append(lines, "• "+truncate(r.Title))
		}
		lines = append(lines, "  📅 "+r.DatePublished.Format("2006-01-02"), "")
	}
	if rest := count - limit; rest > 0 {
		more := noun
		if class == crawler.ClassPressRelease {
			more = "release"
		}
		lines = append(lines, fmt.Sprintf("... and %d more %s%s", rest, more, plural(rest)))
	}
	lines = append(lines, "🔗 Check the FinCompliance dashboard for full details")
	return title, strings.Join(lines, "\n")
}

func truncate(title string) string {
	if title == "" {
		return "No title"
	}
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	return string([]rune(title)[:maxTitleRunes]) + "..."
}

func plural(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}
