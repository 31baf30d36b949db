package service

import (
	"context"
	"time"

	"refund-service/internal/gateway"
	"refund-service/internal/models"
	"refund-service/internal/store"
)

// Store is the record-store contract the refund services consume.
// *store.Store implements it; tests use an in-memory fake.
type Store interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderWithTransactions(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrderRefundState(ctx context.Context, orderID, totalRefunded int64, status string) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	UpdateTransactionStatus(ctx context.Context, txID int64, status string) error
	RecomputeOrderRefundState(ctx context.Context, orderID int64) error

	CreateRefundWithOutbox(ctx context.Context, r *models.Refund) error
	GetRefundByID(ctx context.Context, id int64) (*models.Refund, error)
	GetRefundByStripeRefundID(ctx context.Context, stripeRefundID string) (*models.Refund, error)
	GetRefundByStripeChargeID(ctx context.Context, stripeChargeID string) (*models.Refund, error)
	HasProcessorRefund(ctx context.Context, orderID int64) (bool, error)
	ListRefunds(ctx context.Context, f store.RefundFilter) ([]models.Refund, error)
	UpdateRefundStatus(ctx context.Context, id int64, status string) error
	BackfillRefundIdentifiers(ctx context.Context, id int64, stripeRefundID, stripeChargeID string) error
	MarkOutboxDone(ctx context.Context, refundID int64) error

	CreateRefundRequest(ctx context.Context, req *models.RefundRequest) error
	GetRefundRequestByID(ctx context.Context, id int64) (*models.RefundRequest, error)
	HasActiveRequestForOrder(ctx context.Context, orderID int64) (bool, error)
	ListRefundRequests(ctx context.Context, f store.RequestFilter) ([]models.RefundRequest, error)
	UpdateRequestReview(ctx context.Context, id int64, status string, reviewerID int64, rejectionReason string) error
	CancelRequest(ctx context.Context, id int64) error
	LinkRefundToRequest(ctx context.Context, requestID, refundID int64) error
}

// Gateway issues refund calls against the payment processor.
type Gateway interface {
	RefundFull(ctx context.Context, paymentIntentID, reason, idempotencyKey string) (*gateway.RefundResult, error)
	RefundPartial(ctx context.Context, paymentIntentID string, amount int64, reason, idempotencyKey string) (*gateway.RefundResult, error)
}

// Locker provides the per-order processing mutex that closes the
// check-then-act window on the duplicate-refund guard.
type Locker interface {
	AcquireOrderLock(ctx context.Context, orderID int64, token string, ttl time.Duration) (bool, error)
	ReleaseOrderLock(ctx context.Context, orderID int64, token string) error
}

// Events publishes refund lifecycle events. Publishing is best-effort;
// failures are logged, never surfaced.
type Events interface {
	PublishRequestCreated(ctx context.Context, event *models.RequestCreatedEvent) error
	PublishRequestReviewed(ctx context.Context, event *models.RequestReviewedEvent) error
	PublishRequestCancelled(ctx context.Context, event *models.RequestCancelledEvent) error
	PublishRefundProcessed(ctx context.Context, event *models.RefundProcessedEvent) error
	PublishRefundReconciled(ctx context.Context, event *models.RefundReconciledEvent) error
}
