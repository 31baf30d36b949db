package refund

import (
	"errors"
	"fmt"
)

// Domain errors. Handlers map these to HTTP statuses with errors.Is.
var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrRequestNotFound         = errors.New("refund request not found")
	ErrRefundNotFound          = errors.New("refund not found")
	ErrInvalidOrder            = errors.New("order amount is invalid or zero")
	ErrInvalidAmount           = errors.New("refund amount must be greater than 0")
	ErrAmountExceedsRefundable = errors.New("refund amount exceeds refundable amount")
	ErrOrderCancelled          = errors.New("cannot refund a cancelled order")
	ErrAlreadyRefunded         = errors.New("already refunded")
	ErrNoAmount                = errors.New("no amount to refund")
	ErrNoTransactions          = errors.New("order has no transactions to refund")
	ErrNotSucceeded            = errors.New("transaction has not succeeded")
	ErrUnsupportedMethod       = errors.New("only stripe payments can be refunded")
	ErrMissingPaymentIntent    = errors.New("transaction has no payment intent ID")
	ErrNoRefundableTransaction = errors.New("no refundable transaction found for order")
	ErrTransactionNotOnOrder   = errors.New("transaction does not belong to order")
	ErrDuplicateRefund         = errors.New("a refund for this order already exists")
	ErrDuplicateRequest        = errors.New("a pending or approved refund request already exists for this order")
	ErrRequestNotApproved      = errors.New("refund request must be approved before processing")
	ErrNotPending              = errors.New("only pending requests can be modified")
	ErrMissingFields           = errors.New("type and amount are required for direct refunds")
	ErrUnauthorized            = errors.New("unauthorized")
)

// GatewayError wraps a processor-side refund failure, carrying the
// processor's message to the caller.
type GatewayError struct {
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("stripe refund failed: %s", e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
