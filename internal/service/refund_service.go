package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"refund-service/internal/gateway"
	"refund-service/internal/models"
	"refund-service/internal/refund"
	"refund-service/internal/store"
	"refund-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RefundService is the refund processing engine: it validates, calls the
// payment gateway, records the refund, and updates the derived order and
// transaction state.
type RefundService struct {
	store         Store
	gateway       Gateway
	locks         Locker
	events        Events
	logger        *zap.Logger
	updateTimeout time.Duration
	lockTTL       time.Duration
}

// NewRefundService creates a new refund processing engine
func NewRefundService(st Store, gw Gateway, locks Locker, events Events, updateTimeout, lockTTL time.Duration) *RefundService {
	return &RefundService{
		store:         st,
		gateway:       gw,
		locks:         locks,
		events:        events,
		logger:        util.GetLogger(),
		updateTimeout: updateTimeout,
		lockTTL:       lockTTL,
	}
}

// ProcessRefundInput drives a refund either from an approved request or
// directly from admin-supplied type and amount.
type ProcessRefundInput struct {
	RefundRequestID int64        `json:"refund_request_id,omitempty"`
	TransactionID   int64        `json:"transaction_id,omitempty"`
	Type            string       `json:"type,omitempty"`
	Amount          int64        `json:"amount,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	Actor           models.Actor `json:"-"`
}

// ProcessRefundResult carries the created refund and the processor's
// immediate response summary.
type ProcessRefundResult struct {
	Refund    *models.Refund        `json:"refund"`
	Processor *gateway.RefundResult `json:"stripe_refund"`
}

// ProcessRefund runs the refund workflow for an order. Validation and the
// gateway call fail fast with no local state; once the processor has
// confirmed, the refund row is the source of truth and derived-state
// update failures are logged and swept up later, never surfaced.
func (s *RefundService) ProcessRefund(ctx context.Context, orderID int64, in ProcessRefundInput) (*ProcessRefundResult, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.ProcessRefund")
	defer span.End()

	// Per-order mutex: the duplicate guard below is check-then-act, so
	// concurrent runs for the same order must be serialized.
	lockToken := uuid.New().String()
	acquired, err := s.locks.AcquireOrderLock(ctx, orderID, lockToken, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire order lock: %w", err)
	}
	if !acquired {
		util.RefundsFailedTotal.WithLabelValues("locked").Inc()
		return nil, fmt.Errorf("%w: refund processing already in progress for order %d", refund.ErrDuplicateRefund, orderID)
	}
	defer func() {
		if err := s.locks.ReleaseOrderLock(context.Background(), orderID, lockToken); err != nil {
			s.logger.Warn("Failed to release order lock",
				zap.Int64("order_id", orderID),
				zap.Error(err))
		}
	}()

	order, err := s.store.GetOrderWithTransactions(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := refund.ValidateOrderCanBeRefunded(order); err != nil {
		util.RefundsFailedTotal.WithLabelValues("order_precondition").Inc()
		return nil, err
	}

	tx, err := s.resolveTransaction(order, in.TransactionID)
	if err != nil {
		util.RefundsFailedTotal.WithLabelValues("no_transaction").Inc()
		return nil, err
	}

	if err := refund.ValidateTransactionCanBeRefunded(tx); err != nil {
		util.RefundsFailedTotal.WithLabelValues("transaction_precondition").Inc()
		return nil, err
	}

	refundType, amount, request, err := s.resolveTypeAndAmount(ctx, order, in)
	if err != nil {
		util.RefundsFailedTotal.WithLabelValues("resolution").Inc()
		return nil, err
	}

	// One refund per order: any existing refund carrying a processor ID
	// blocks further refunds.
	hasRefund, err := s.store.HasProcessorRefund(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing refunds: %w", err)
	}
	if hasRefund {
		util.RefundsFailedTotal.WithLabelValues("duplicate").Inc()
		return nil, refund.ErrDuplicateRefund
	}

	if err := refund.ValidateRefundAmount(order.Amount, order.TotalRefunded, amount); err != nil {
		util.RefundsFailedTotal.WithLabelValues("amount").Inc()
		return nil, err
	}

	// The gateway call must succeed before any local record exists. The
	// idempotency key protects against transport-level retries only;
	// the call itself is never retried here.
	idempotencyKey := uuid.New().String()
	var result *gateway.RefundResult
	if refundType == models.RefundTypeFull {
		result, err = s.gateway.RefundFull(ctx, tx.PaymentIntentID, in.Reason, idempotencyKey)
	} else {
		result, err = s.gateway.RefundPartial(ctx, tx.PaymentIntentID, amount, in.Reason, idempotencyKey)
	}
	if err != nil {
		util.RefundsFailedTotal.WithLabelValues("gateway").Inc()
		return nil, err
	}

	status := models.RefundStatusProcessing
	if result.Succeeded() {
		status = models.RefundStatusCompleted
	}

	rec := &models.Refund{
		OrderID:         orderID,
		TransactionID:   tx.ID,
		Amount:          amount,
		Currency:        order.Currency,
		Type:            refundType,
		Status:          status,
		StripeRefundID:  result.ID,
		StripeChargeID:  result.ChargeID,
		PaymentIntentID: tx.PaymentIntentID,
		Reason:          in.Reason,
	}
	if request != nil {
		rec.RefundRequestID = sql.NullInt64{Int64: request.ID, Valid: true}
	}
	if in.Actor.UserID != 0 {
		rec.ProcessedBy = sql.NullInt64{Int64: in.Actor.UserID, Valid: true}
	}

	if err := s.store.CreateRefundWithOutbox(ctx, rec); err != nil {
		// Money already moved at the processor but no local record
		// exists. Nothing can recover this automatically; flag it for
		// manual reconciliation.
		s.logger.Error("Refund confirmed by Stripe but local record could not be written - manual reconciliation required",
			zap.Int64("order_id", orderID),
			zap.String("stripe_refund_id", result.ID),
			zap.Int64("amount", amount),
			zap.Error(err))
		util.RefundsFailedTotal.WithLabelValues("persist").Inc()
		return nil, fmt.Errorf("refund %s confirmed by processor but not recorded: %w", result.ID, err)
	}

	util.RefundsProcessedTotal.Inc()
	util.RefundAmountTotal.Add(float64(amount))
	s.logger.Info("Refund recorded",
		zap.Int64("refund_id", rec.ID),
		zap.Int64("order_id", orderID),
		zap.String("stripe_refund_id", result.ID),
		zap.Int64("amount", amount))

	if request != nil {
		if err := s.store.LinkRefundToRequest(ctx, request.ID, rec.ID); err != nil {
			s.logger.Error("Failed to link refund to request",
				zap.Int64("request_id", request.ID),
				zap.Int64("refund_id", rec.ID),
				zap.Error(err))
		}
	}

	s.applyDerivedState(order, tx, rec)

	if s.events != nil {
		event := &models.RefundProcessedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeRefundProcessed,
				Timestamp: time.Now(),
			},
			RefundID:       rec.ID,
			OrderID:        orderID,
			Amount:         amount,
			Type:           refundType,
			StripeRefundID: result.ID,
		}
		if err := s.events.PublishRefundProcessed(ctx, event); err != nil {
			s.logger.Error("Failed to publish RefundProcessed event", zap.Error(err))
		}
	}

	return &ProcessRefundResult{Refund: rec, Processor: result}, nil
}

// resolveTransaction picks the refund source: an explicitly requested
// transaction, which must belong to the order, or the order's primary
// succeeded transaction.
func (s *RefundService) resolveTransaction(order *models.Order, transactionID int64) (*models.Transaction, error) {
	if transactionID != 0 {
		for i := range order.Transactions {
			if order.Transactions[i].ID == transactionID {
				return &order.Transactions[i], nil
			}
		}
		return nil, fmt.Errorf("%w: transaction %d, order %d", refund.ErrTransactionNotOnOrder, transactionID, order.ID)
	}

	tx := refund.PrimaryTransaction(order)
	if tx == nil {
		return nil, refund.ErrNoRefundableTransaction
	}
	return tx, nil
}

// resolveTypeAndAmount determines the refund type and amount, either from
// an approved request or from the direct admin input.
func (s *RefundService) resolveTypeAndAmount(ctx context.Context, order *models.Order, in ProcessRefundInput) (string, int64, *models.RefundRequest, error) {
	refundable := refund.RefundableAmount(order.Amount, order.TotalRefunded)

	if in.RefundRequestID != 0 {
		request, err := s.store.GetRefundRequestByID(ctx, in.RefundRequestID)
		if err != nil {
			return "", 0, nil, err
		}
		if request.OrderID != order.ID {
			return "", 0, nil, fmt.Errorf("%w: request %d belongs to order %d", refund.ErrRequestNotFound, request.ID, request.OrderID)
		}
		if request.Status != models.RequestStatusApproved {
			return "", 0, nil, refund.ErrRequestNotApproved
		}

		amount := request.Amount
		if amount == 0 {
			amount = refundable
		}
		refundType := request.Type
		if refundType == "" {
			refundType = deriveType(amount, refundable)
		}
		return refundType, amount, request, nil
	}

	if in.Type == "" {
		return "", 0, nil, refund.ErrMissingFields
	}
	amount := in.Amount
	if amount == 0 {
		// Only a full refund may omit the amount.
		if in.Type != models.RefundTypeFull {
			return "", 0, nil, refund.ErrMissingFields
		}
		amount = refundable
	}
	return in.Type, amount, nil, nil
}

// applyDerivedState updates the order's refund aggregates and flips the
// source transaction to refunded. Best-effort with a bounded wait: the
// refund row is already the source of truth, so failures here are logged
// and left for the reconciliation sweep, not surfaced to the caller.
func (s *RefundService) applyDerivedState(order *models.Order, tx *models.Transaction, rec *models.Refund) {
	ctx, cancel := context.WithTimeout(context.Background(), s.updateTimeout)
	defer cancel()

	newTotal := order.TotalRefunded + rec.Amount
	newStatus := refund.DeriveOrderStatus(order.Status, order.Amount, newTotal)

	if err := s.store.UpdateOrderRefundState(ctx, order.ID, newTotal, newStatus); err != nil {
		s.logger.Error("Failed to update order after refund - deferred to reconciliation sweep",
			zap.Int64("order_id", order.ID),
			zap.Int64("refund_id", rec.ID),
			zap.Error(err))
		util.ReconcileFailuresTotal.Inc()
		return
	}

	if err := s.store.UpdateTransactionStatus(ctx, tx.ID, models.TransactionStatusRefunded); err != nil {
		s.logger.Error("Failed to update transaction after refund - deferred to reconciliation sweep",
			zap.Int64("transaction_id", tx.ID),
			zap.Int64("refund_id", rec.ID),
			zap.Error(err))
		util.ReconcileFailuresTotal.Inc()
		return
	}

	if err := s.store.MarkOutboxDone(ctx, rec.ID); err != nil {
		s.logger.Warn("Failed to mark outbox entry done",
			zap.Int64("refund_id", rec.ID),
			zap.Error(err))
	}

	s.logger.Info("Order updated after refund",
		zap.Int64("order_id", order.ID),
		zap.Int64("total_refunded", newTotal),
		zap.String("status", newStatus))
}

func deriveType(amount, refundable int64) string {
	if amount == refundable {
		return models.RefundTypeFull
	}
	return models.RefundTypePartial
}

// GetRefund retrieves a refund, scoped to its owner unless the actor is
// an admin.
func (s *RefundService) GetRefund(ctx context.Context, id int64, actor models.Actor, guestEmail string) (*models.Refund, error) {
	rec, err := s.store.GetRefundByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !actor.Admin {
		order, err := s.store.GetOrderByID(ctx, rec.OrderID)
		if err != nil {
			return nil, err
		}
		if !ownsOrder(order, actor, guestEmail) {
			return nil, refund.ErrUnauthorized
		}
	}

	return rec, nil
}

// ListRefunds retrieves refunds; owners see their own, admins see all.
func (s *RefundService) ListRefunds(ctx context.Context, orderID int64, status string, actor models.Actor, guestEmail string) ([]models.Refund, error) {
	f := store.RefundFilter{OrderID: orderID, Status: status}

	if !actor.Admin {
		if actor.UserID != 0 {
			f.CustomerID = actor.UserID
		} else if guestEmail != "" {
			f.Email = guestEmail
		} else {
			return nil, refund.ErrUnauthorized
		}
	}

	return s.store.ListRefunds(ctx, f)
}

func ownsOrder(order *models.Order, actor models.Actor, guestEmail string) bool {
	if actor.UserID != 0 {
		return order.CustomerID == actor.UserID
	}
	return guestEmail != "" && guestEmail == order.CustomerEmail
}
