// Package notify fans newly discovered records out to notification channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/metrics"
)

// EventDocumentsDiscovered is the event type published for each non-empty cycle.
const EventDocumentsDiscovered = "documents.discovered"

// Event is the message body published for newly discovered records.
type Event struct {
	Type        string                   `json:"type"`
	RunID       string                   `json:"run_id,omitempty"`
	Class       crawler.DocumentClass    `json:"class"`
	Count       int                      `json:"count"`
	Records     []crawler.DocumentRecord `json:"records"`
	PublishedAt time.Time                `json:"published_at"`
}

// Multi delivers to every notifier and joins their errors.
type Multi []crawler.Notifier

// Notify calls each notifier in order; one failure does not stop the rest.
func (m Multi) Notify(ctx context.Context, class crawler.DocumentClass, records []crawler.DocumentRecord) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, class, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublisherNotifier publishes one Event per non-empty batch to a topic.
type PublisherNotifier struct {
	publisher crawler.Publisher
	topic     string
	clock     crawler.Clock
	logger    *zap.Logger
}

// NewPublisherNotifier wires a notifier onto publisher.
func NewPublisherNotifier(publisher crawler.Publisher, topic string, clock crawler.Clock, logger *zap.Logger) *PublisherNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherNotifier{publisher: publisher, topic: topic, clock: clock, logger: logger}
}

// Notify publishes the batch; empty batches are not published.
func (n *PublisherNotifier) Notify(ctx context.Context, class crawler.DocumentClass, records []crawler.DocumentRecord) error {
	if len(records) == 0 {
		return nil
	}
	event := Event{
		Type:        EventDocumentsDiscovered,
		Class:       class,
		Count:       len(records),
		Records:     records,
		PublishedAt: n.clock.Now(),
	}
	id, err := n.publisher.Publish(ctx, n.topic, event)
	if err != nil {
		metrics.ObserveNotification("pubsub", "error")
		return fmt.Errorf("publish %s event: %w", class, err)
	}
	metrics.ObserveNotification("pubsub", "sent")
	n.logger.Debug("discovery event published",
		zap.String("topic", n.topic),
		zap.String("message_id", id),
		zap.Int("count", len(records)),
	)
	return nil
}

// LogNotifier writes a digest line per batch; it is the fallback when no channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the titles of the batch.
func (n *LogNotifier) Notify(_ context.Context, class crawler.DocumentClass, records []crawler.DocumentRecord) error {
	if len(records) == 0 {
		return nil
	}
	titles := make([]string, 0, len(records))
	for _, r := range records {
		titles = append(titles, r.Title)
	}
	n.logger.Info("new documents discovered",
		zap.String("class", string(class)),
		zap.Int("count", len(records)),
		zap.Strings("titles", titles),
	)
	metrics.ObserveNotification("log", "sent")
	return nil
}
