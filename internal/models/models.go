package models

import (
	"database/sql"
	"time"
)

// Order represents a customer order. Amounts are integer minor units (pence).
type Order struct {
	ID            int64     `db:"id" json:"id"`
	CustomerID    int64     `db:"customer_id" json:"customer_id,omitempty"`
	CustomerEmail string    `db:"customer_email" json:"customer_email,omitempty"`
	Amount        int64     `db:"amount" json:"amount"`
	Currency      string    `db:"currency" json:"currency"`
	Status        string    `db:"status" json:"status"`
	TotalRefunded int64     `db:"total_refunded" json:"total_refunded"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`

	// Loaded separately, insertion order preserved.
	Transactions []Transaction `db:"-" json:"transactions,omitempty"`
}

// Transaction represents a captured payment on an order.
type Transaction struct {
	ID              int64     `db:"id" json:"id"`
	OrderID         int64     `db:"order_id" json:"order_id"`
	Amount          int64     `db:"amount" json:"amount"`
	Status          string    `db:"status" json:"status"`
	PaymentMethod   string    `db:"payment_method" json:"payment_method"`
	PaymentIntentID string    `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// RefundRequest is a customer-initiated request for a refund.
type RefundRequest struct {
	ID              int64          `db:"id" json:"id"`
	OrderID         int64          `db:"order_id" json:"order_id"`
	CustomerID      sql.NullInt64  `db:"customer_id" json:"customer_id,omitempty"`
	CustomerEmail   string         `db:"customer_email" json:"customer_email,omitempty"`
	Type            string         `db:"type" json:"type"`
	Amount          int64          `db:"amount" json:"amount"`
	Currency        string         `db:"currency" json:"currency"`
	Reason          string         `db:"reason" json:"reason"`
	Items           sql.NullString `db:"items" json:"items,omitempty"`
	Status          string         `db:"status" json:"status"`
	RejectionReason sql.NullString `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ReviewedBy      sql.NullInt64  `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt      sql.NullTime   `db:"reviewed_at" json:"reviewed_at,omitempty"`
	RefundID        sql.NullInt64  `db:"refund_id" json:"refund_id,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// Refund is a log of a confirmed processor refund. A row exists only after
// the Stripe call has already succeeded.
type Refund struct {
	ID              int64         `db:"id" json:"id"`
	OrderID         int64         `db:"order_id" json:"order_id"`
	TransactionID   int64         `db:"transaction_id" json:"transaction_id"`
	RefundRequestID sql.NullInt64 `db:"refund_request_id" json:"refund_request_id,omitempty"`
	Amount          int64         `db:"amount" json:"amount"`
	Currency        string        `db:"currency" json:"currency"`
	Type            string        `db:"type" json:"type"`
	Status          string        `db:"status" json:"status"`
	StripeRefundID  string        `db:"stripe_refund_id" json:"stripe_refund_id"`
	StripeChargeID  string        `db:"stripe_charge_id" json:"stripe_charge_id,omitempty"`
	PaymentIntentID string        `db:"payment_intent_id" json:"payment_intent_id"`
	Reason          string        `db:"reason" json:"reason,omitempty"`
	ProcessedBy     sql.NullInt64 `db:"processed_by" json:"processed_by,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// OutboxEntry marks a refund whose derived order/transaction state still
// needs reconciling. Written atomically with the refund row.
type OutboxEntry struct {
	ID            int64          `db:"id"`
	RefundID      int64          `db:"refund_id"`
	OrderID       int64          `db:"order_id"`
	TransactionID int64          `db:"transaction_id"`
	Amount        int64          `db:"amount"`
	Done          bool           `db:"done"`
	Attempts      int            `db:"attempts"`
	LastError     sql.NullString `db:"last_error"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// Actor is the resolved caller identity. Authentication happens upstream;
// the edge injects identity headers.
type Actor struct {
	UserID int64
	Email  string
	Admin  bool
}

// IsGuest reports whether the actor has no authenticated user.
func (a Actor) IsGuest() bool {
	return a.UserID == 0
}

// Order statuses
const (
	OrderStatusPending           = "pending"
	OrderStatusCompleted         = "completed"
	OrderStatusPartiallyRefunded = "partially_refunded"
	OrderStatusRefunded          = "refunded"
	OrderStatusCancelled         = "cancelled"
)

// Transaction statuses
const (
	TransactionStatusPending   = "pending"
	TransactionStatusSucceeded = "succeeded"
	TransactionStatusFailed    = "failed"
	TransactionStatusRefunded  = "refunded"
)

// Payment methods
const (
	PaymentMethodStripe = "stripe"
)

// Refund request statuses
const (
	RequestStatusPending   = "pending"
	RequestStatusApproved  = "approved"
	RequestStatusRejected  = "rejected"
	RequestStatusCancelled = "cancelled"
)

// Refund types
const (
	RefundTypeFull    = "full"
	RefundTypePartial = "partial"
)

// Refund statuses
const (
	RefundStatusProcessing = "processing"
	RefundStatusCompleted  = "completed"
	RefundStatusFailed     = "failed"
)
