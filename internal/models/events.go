package models

import "time"

// Event types
const (
	EventTypeRequestCreated   = "REFUND_REQUEST_CREATED"
	EventTypeRequestApproved  = "REFUND_REQUEST_APPROVED"
	EventTypeRequestRejected  = "REFUND_REQUEST_REJECTED"
	EventTypeRequestCancelled = "REFUND_REQUEST_CANCELLED"
	EventTypeRefundProcessed  = "REFUND_PROCESSED"
	EventTypeRefundReconciled = "REFUND_RECONCILED"
	EventTypeStripeRefund     = "STRIPE_REFUND_EVENT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestCreatedEvent published when a customer opens a refund request
type RequestCreatedEvent struct {
	BaseEvent
	RequestID int64  `json:"request_id"`
	OrderID   int64  `json:"order_id"`
	Type      string `json:"type"`
	Amount    int64  `json:"amount"`
}

// RequestReviewedEvent published when an admin approves or rejects a request
type RequestReviewedEvent struct {
	BaseEvent
	RequestID int64  `json:"request_id"`
	OrderID   int64  `json:"order_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	AdminID   int64  `json:"admin_id"`
}

// RequestCancelledEvent published when the requester withdraws a pending request
type RequestCancelledEvent struct {
	BaseEvent
	RequestID int64 `json:"request_id"`
	OrderID   int64 `json:"order_id"`
}

// RefundProcessedEvent published after a processor refund has been confirmed
// and the local refund row written
type RefundProcessedEvent struct {
	BaseEvent
	RefundID       int64  `json:"refund_id"`
	OrderID        int64  `json:"order_id"`
	Amount         int64  `json:"amount"`
	Type           string `json:"type"`
	StripeRefundID string `json:"stripe_refund_id"`
}

// RefundReconciledEvent published when a webhook changes a refund's status
type RefundReconciledEvent struct {
	BaseEvent
	RefundID       int64  `json:"refund_id"`
	OrderID        int64  `json:"order_id"`
	Status         string `json:"status"`
	StripeRefundID string `json:"stripe_refund_id"`
}

// StripeRefundEvent is a verified processor webhook event queued for the
// reconciler. The webhook endpoint verifies the signature, acks, and
// publishes this; the reconciler worker consumes it.
type StripeRefundEvent struct {
	BaseEvent
	StripeEventID  string `json:"stripe_event_id"`
	Kind           string `json:"kind"`
	StripeRefundID string `json:"stripe_refund_id"`
	StripeChargeID string `json:"stripe_charge_id,omitempty"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
}
