// Package refund holds the pure validation and money arithmetic for the
// refund workflow. Nothing here touches the database or the network.
package refund

import (
	"fmt"

	"refund-service/internal/models"
)

// RefundableAmount returns how much of an order can still be refunded.
// An absent or non-positive order amount refunds nothing.
func RefundableAmount(orderAmount, totalRefunded int64) int64 {
	if orderAmount <= 0 {
		return 0
	}
	if totalRefunded >= orderAmount {
		return 0
	}
	if totalRefunded < 0 {
		totalRefunded = 0
	}
	return orderAmount - totalRefunded
}

// ValidateRefundAmount checks a requested amount against what the order can
// still refund.
func ValidateRefundAmount(orderAmount, totalRefunded, requested int64) error {
	if orderAmount <= 0 {
		return ErrInvalidOrder
	}
	if requested <= 0 {
		return ErrInvalidAmount
	}
	refundable := RefundableAmount(orderAmount, totalRefunded)
	if requested > refundable {
		return fmt.Errorf("%w: requested %d, refundable %d", ErrAmountExceedsRefundable, requested, refundable)
	}
	return nil
}

// ValidateOrderCanBeRefunded checks order-level preconditions.
func ValidateOrderCanBeRefunded(order *models.Order) error {
	if order.Status == models.OrderStatusCancelled {
		return ErrOrderCancelled
	}
	if order.Status == models.OrderStatusRefunded {
		return fmt.Errorf("%w: order has been fully refunded", ErrAlreadyRefunded)
	}
	if order.Amount <= 0 {
		return ErrNoAmount
	}
	if len(order.Transactions) == 0 {
		return ErrNoTransactions
	}
	return nil
}

// ValidateTransactionCanBeRefunded checks transaction-level preconditions.
func ValidateTransactionCanBeRefunded(tx *models.Transaction) error {
	if tx.Status == models.TransactionStatusRefunded {
		return fmt.Errorf("%w: transaction has been refunded", ErrAlreadyRefunded)
	}
	if tx.Status != models.TransactionStatusSucceeded {
		return fmt.Errorf("%w: status is %s", ErrNotSucceeded, tx.Status)
	}
	if tx.PaymentMethod != models.PaymentMethodStripe {
		return ErrUnsupportedMethod
	}
	if tx.PaymentIntentID == "" {
		return ErrMissingPaymentIntent
	}
	if tx.Amount <= 0 {
		return ErrNoAmount
	}
	return nil
}

// DeriveOrderStatus returns the order status implied by the accumulated
// refunds: refunded once everything is back, partially_refunded for
// anything in between, otherwise the current status is kept.
func DeriveOrderStatus(current string, orderAmount, totalRefunded int64) string {
	if orderAmount > 0 && totalRefunded >= orderAmount {
		return models.OrderStatusRefunded
	}
	if totalRefunded > 0 {
		return models.OrderStatusPartiallyRefunded
	}
	return current
}

// PrimaryTransaction returns the first succeeded transaction on the order,
// in insertion order, or nil if there is none.
func PrimaryTransaction(order *models.Order) *models.Transaction {
	for i := range order.Transactions {
		if order.Transactions[i].Status == models.TransactionStatusSucceeded {
			return &order.Transactions[i]
		}
	}
	return nil
}
