package worker

import (
	"context"
	"fmt"
	"log/slog"

	"ledgerlens/internal/core"
	"ledgerlens/internal/ledger"
	"ledgerlens/internal/log"
)

// Outbox durably records delivered insights until they are published.
// *storage.SQLiteRepository satisfies it.
type Outbox interface {
	ledger.InsightSink
	PendingInsights(ctx context.Context, limit int) ([]core.Insight, error)
	MarkPublished(ctx context.Context, id string) error
}

// InsightPublisher sends one user's insights downstream. *amqp.Client
// satisfies it.
type InsightPublisher interface {
	PublishInsights(ctx context.Context, userID string, insights []core.Insight) error
}

// Publisher is the InsightSink used by the worker. Insights are written to
// the outbox first; a failed publish leaves them pending for FlushPending.
type Publisher struct {
	outbox    Outbox
	publisher InsightPublisher
	batchSize int
}

func NewPublisher(outbox Outbox, publisher InsightPublisher, batchSize int) *Publisher {
	if batchSize < 1 {
		batchSize = 100
	}
	return &Publisher{outbox: outbox, publisher: publisher, batchSize: batchSize}
}

var _ ledger.InsightSink = (*Publisher)(nil)

// Deliver implements ledger.InsightSink. It fails only when the outbox write
// fails.
func (p *Publisher) Deliver(ctx context.Context, userID string, insights []core.Insight) error {
	if err := p.outbox.Deliver(ctx, userID, insights); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	if err := p.publish(ctx, userID, insights); err != nil {
		slog.WarnContext(ctx, "Insight publish failed, left in outbox",
			log.FieldUserID, userID,
			log.FieldCount, len(insights),
			log.FieldError, err)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, userID string, insights []core.Insight) error {
	if err := p.publisher.PublishInsights(ctx, userID, insights); err != nil {
		return err
	}
	for _, in := range insights {
		if err := p.outbox.MarkPublished(ctx, in.ID); err != nil {
			// Published but still pending: consumers see it again on flush.
			slog.ErrorContext(ctx, "Failed to mark insight published",
				log.FieldUserID, userID,
				"insight_id", in.ID,
				log.FieldError, err)
		}
	}
	return nil
}

// FlushPending republishes outbox entries that were never published, one
// batch per user in outbox order. It returns how many were published.
func (p *Publisher) FlushPending(ctx context.Context) (int, error) {
	pending, err := p.outbox.PendingInsights(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending insights: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var order []string
	byUser := make(map[string][]core.Insight)
	for _, in := range pending {
		if _, ok := byUser[in.UserID]; !ok {
			order = append(order, in.UserID)
		}
		byUser[in.UserID] = append(byUser[in.UserID], in)
	}

	published, failed := 0, 0
	for _, userID := range order {
		batch := byUser[userID]
		if err := p.publish(ctx, userID, batch); err != nil {
			slog.ErrorContext(ctx, "Failed to publish pending insights",
				log.FieldUserID, userID,
				log.FieldCount, len(batch),
				log.FieldError, err)
			failed++
			continue
		}
		published += len(batch)
	}

	slog.InfoContext(ctx, "Pending insights flushed",
		"total", len(pending),
		"published", published,
		"failed_users", failed)
	return published, nil
}
