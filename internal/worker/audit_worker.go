// Package worker consumes purchase events into the local audit ledger.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"splitledger/internal/amqp"
	"splitledger/internal/storage"
)

// Ledger is where audit rows land.
type Ledger interface {
	AppendAuditEvent(ctx context.Context, ev storage.AuditEvent) (int64, error)
}

// Mirror optionally duplicates events to an external sheet. Mirroring is
// best effort; a failed mirror never blocks the ack.
type Mirror interface {
	Append(ctx context.Context, msg *amqp.PurchaseEventMessage) error
}

// AuditWorker handles purchase events: one audit row per event, plus an
// optional mirror append.
type AuditWorker struct {
	ledger Ledger
	mirror Mirror
}

func NewAuditWorker(ledger Ledger, mirror Mirror) *AuditWorker {
	return &AuditWorker{
		ledger: ledger,
		mirror: mirror,
	}
}

// HandleEvent processes a single purchase event. The returned error
// controls the ack: the caller only acks once the audit row is written.
func (w *AuditWorker) HandleEvent(ctx context.Context, msg *amqp.PurchaseEventMessage) error {
	slog.InfoContext(ctx, "Processing purchase event",
		"purchase_id", msg.PurchaseID,
		"action", msg.Action)

	id, err := w.ledger.AppendAuditEvent(ctx, storage.AuditEvent{
		PurchaseID:  msg.PurchaseID,
		Action:      msg.Action,
		Total:       msg.Total,
		ActorUserID: msg.UserID,
		OccurredAt:  msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}

	slog.InfoContext(ctx, "Audit event recorded",
		"audit_id", id,
		"purchase_id", msg.PurchaseID)

	if w.mirror != nil {
		if err := w.mirror.Append(ctx, msg); err != nil {
			slog.WarnContext(ctx, "Mirror append failed",
				"purchase_id", msg.PurchaseID,
				"error", err)
		}
	}

	return nil
}

// Run consumes events until the context ends.
func (w *AuditWorker) Run(ctx context.Context, client *amqp.Client) error {
	return client.ConsumePurchaseEvents(ctx, func(msg *amqp.PurchaseEventMessage) error {
		return w.HandleEvent(ctx, msg)
	})
}
