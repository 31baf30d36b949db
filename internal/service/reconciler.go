package service

import (
	"context"
	"fmt"
	"time"

	"refund-service/internal/models"
	"refund-service/internal/refund"
	"refund-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reconciler corrects local refund state from processor-pushed events.
// It adjusts statuses only; amounts were applied when the refund was
// created, so replaying an event converges to the same state.
type Reconciler struct {
	store  Store
	events Events
	logger *zap.Logger
}

// NewReconciler creates a new webhook reconciler
func NewReconciler(st Store, events Events) *Reconciler {
	return &Reconciler{
		store:  st,
		events: events,
		logger: util.GetLogger(),
	}
}

// MapProcessorStatus maps a Stripe refund status onto the local one.
func MapProcessorStatus(processorStatus string) string {
	switch processorStatus {
	case "succeeded":
		return models.RefundStatusCompleted
	case "failed", "canceled":
		return models.RefundStatusFailed
	default:
		return models.RefundStatusProcessing
	}
}

// HandleRefundEvent reconciles a verified processor refund event against
// the local records. Unknown refunds are acknowledged as no-ops: the
// refund may have been issued directly in the Stripe dashboard.
func (r *Reconciler) HandleRefundEvent(ctx context.Context, ev *models.StripeRefundEvent) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleRefundEvent")
	defer span.End()

	rec, err := r.store.GetRefundByStripeRefundID(ctx, ev.StripeRefundID)
	if err != nil {
		return fmt.Errorf("failed to look up refund by processor ID: %w", err)
	}
	if rec == nil {
		// Refunds recorded without a processor refund ID can still be
		// matched through the charge and backfilled.
		rec, err = r.store.GetRefundByStripeChargeID(ctx, ev.StripeChargeID)
		if err != nil {
			return fmt.Errorf("failed to look up refund by charge ID: %w", err)
		}
	}
	if rec == nil {
		r.logger.Warn("Refund webhook received but no matching refund record",
			zap.String("stripe_refund_id", ev.StripeRefundID),
			zap.String("kind", ev.Kind))
		util.WebhookEventsTotal.WithLabelValues("unmatched").Inc()
		return nil
	}

	if rec.StripeRefundID == "" || rec.StripeChargeID == "" {
		if err := r.store.BackfillRefundIdentifiers(ctx, rec.ID, ev.StripeRefundID, ev.StripeChargeID); err != nil {
			r.logger.Error("Failed to backfill refund identifiers",
				zap.Int64("refund_id", rec.ID),
				zap.Error(err))
		}
	}

	newStatus := MapProcessorStatus(ev.Status)
	statusChanged := newStatus != rec.Status

	if statusChanged {
		if err := r.store.UpdateRefundStatus(ctx, rec.ID, newStatus); err != nil {
			return fmt.Errorf("failed to update refund status: %w", err)
		}
		r.logger.Info("Refund status reconciled from webhook",
			zap.Int64("refund_id", rec.ID),
			zap.String("from", rec.Status),
			zap.String("to", newStatus))
	}

	if statusChanged && newStatus == models.RefundStatusFailed {
		// The engine applied the amount when the refund was created; a
		// failed refund has to come back out of the order's totals. The
		// recompute excludes failed rows, so this is a straight rewrite.
		if err := r.store.RecomputeOrderRefundState(ctx, rec.OrderID); err != nil {
			return fmt.Errorf("failed to recompute order totals after failed refund: %w", err)
		}
		r.logger.Info("Order totals recomputed after failed refund",
			zap.Int64("order_id", rec.OrderID),
			zap.Int64("refund_id", rec.ID))
	}

	if newStatus == models.RefundStatusCompleted {
		// Correct the order status from the authoritative totalRefunded.
		// The event amount is deliberately ignored: the engine applied
		// it at creation time, and re-applying would double count.
		order, err := r.store.GetOrderByID(ctx, rec.OrderID)
		if err != nil {
			return fmt.Errorf("failed to load order for reconciliation: %w", err)
		}

		derived := refund.DeriveOrderStatus(order.Status, order.Amount, order.TotalRefunded)
		if derived != order.Status {
			if err := r.store.UpdateOrderStatus(ctx, order.ID, derived); err != nil {
				return fmt.Errorf("failed to update order status: %w", err)
			}
			r.logger.Info("Order status reconciled from webhook",
				zap.Int64("order_id", order.ID),
				zap.String("status", derived))
		}
	}

	if statusChanged {
		util.WebhookEventsTotal.WithLabelValues("reconciled").Inc()
	} else {
		util.WebhookEventsTotal.WithLabelValues("noop").Inc()
	}

	if statusChanged && r.events != nil {
		event := &models.RefundReconciledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeRefundReconciled,
				Timestamp: time.Now(),
			},
			RefundID:       rec.ID,
			OrderID:        rec.OrderID,
			Status:         newStatus,
			StripeRefundID: ev.StripeRefundID,
		}
		if err := r.events.PublishRefundReconciled(ctx, event); err != nil {
			r.logger.Error("Failed to publish RefundReconciled event", zap.Error(err))
		}
	}

	return nil
}
