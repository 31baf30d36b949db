package worker

import (
	"context"
	"log"
	"time"

	"refund-service/internal/broker"
	"refund-service/internal/models"
	"refund-service/internal/service"
	"refund-service/internal/util"

	"go.uber.org/zap"
)

// WebhookWorker consumes verified Stripe refund events from Kafka and
// feeds them to the reconciler. Delivery is at-least-once; the reconciler
// is idempotent, so redeliveries are harmless.
type WebhookWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewWebhookWorker creates a new webhook worker
func NewWebhookWorker(consumer *broker.Consumer, reconciler *service.Reconciler) *WebhookWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnStripeRefund(reconciler.HandleRefundEvent)

	return &WebhookWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *WebhookWorker) Start(ctx context.Context) error {
	log.Println("Starting webhook worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *WebhookWorker) Stop() error {
	log.Println("Stopping webhook worker...")
	return w.consumer.Close()
}

// OutboxStore is the slice of the record store the sweep needs.
type OutboxStore interface {
	GetPendingOutboxEntries(ctx context.Context, limit int) ([]models.OutboxEntry, error)
	RecomputeOrderRefundState(ctx context.Context, orderID int64) error
	UpdateTransactionStatus(ctx context.Context, txID int64, status string) error
	MarkOutboxDone(ctx context.Context, refundID int64) error
	RecordOutboxAttempt(ctx context.Context, entryID int64, lastError string) error
}

// OutboxWorker retries the derived order/transaction updates for refunds
// whose synchronous update failed. Recomputation is from the refund rows
// themselves, so repeated sweeps converge.
type OutboxWorker struct {
	store    OutboxStore
	interval time.Duration
	logger   *zap.Logger
}

// NewOutboxWorker creates a new reconciliation sweep worker
func NewOutboxWorker(store OutboxStore, interval time.Duration) *OutboxWorker {
	return &OutboxWorker{
		store:    store,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs the sweep until the context is cancelled
func (w *OutboxWorker) Start(ctx context.Context) error {
	log.Printf("Starting outbox sweep worker (interval: %s)", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Outbox worker context cancelled, stopping...")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *OutboxWorker) sweep(ctx context.Context) {
	entries, err := w.store.GetPendingOutboxEntries(ctx, 50)
	if err != nil {
		w.logger.Error("Failed to load pending outbox entries", zap.Error(err))
		return
	}

	for _, entry := range entries {
		if err := w.reconcile(ctx, entry); err != nil {
			w.logger.Error("Outbox reconciliation failed",
				zap.Int64("refund_id", entry.RefundID),
				zap.Int64("order_id", entry.OrderID),
				zap.Int("attempts", entry.Attempts+1),
				zap.Error(err))
			util.OutboxSweepsTotal.WithLabelValues("failed").Inc()

			if err := w.store.RecordOutboxAttempt(ctx, entry.ID, err.Error()); err != nil {
				w.logger.Error("Failed to record outbox attempt", zap.Error(err))
			}
			continue
		}

		util.OutboxSweepsTotal.WithLabelValues("done").Inc()
		w.logger.Info("Outbox entry reconciled",
			zap.Int64("refund_id", entry.RefundID),
			zap.Int64("order_id", entry.OrderID))
	}
}

func (w *OutboxWorker) reconcile(ctx context.Context, entry models.OutboxEntry) error {
	if err := w.store.RecomputeOrderRefundState(ctx, entry.OrderID); err != nil {
		return err
	}
	if err := w.store.UpdateTransactionStatus(ctx, entry.TransactionID, models.TransactionStatusRefunded); err != nil {
		return err
	}
	return w.store.MarkOutboxDone(ctx, entry.RefundID)
}
