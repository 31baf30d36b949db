package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"refund-service/internal/models"
	"refund-service/internal/refund"
)

// CreateRefundWithOutbox inserts a refund row and its reconciliation
// outbox entry in one transaction. The refund row is only ever written
// after the processor call has succeeded.
func (s *Store) CreateRefundWithOutbox(ctx context.Context, r *models.Refund) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO refunds (order_id, transaction_id, refund_request_id, amount, currency,
			type, status, stripe_refund_id, stripe_charge_id, payment_intent_id, reason, processed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		r.OrderID, r.TransactionID, r.RefundRequestID, r.Amount, r.Currency,
		r.Type, r.Status, r.StripeRefundID, r.StripeChargeID, r.PaymentIntentID,
		r.Reason, r.ProcessedBy).
		Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO refund_outbox (refund_id, order_id, transaction_id, amount) VALUES ($1, $2, $3, $4)",
		r.ID, r.OrderID, r.TransactionID, r.Amount)
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}

	return tx.Commit()
}

// GetRefundByID retrieves a refund by ID
func (s *Store) GetRefundByID(ctx context.Context, id int64) (*models.Refund, error) {
	var r models.Refund
	err := s.db.GetContext(ctx, &r, "SELECT * FROM refunds WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", refund.ErrRefundNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRefundByStripeRefundID retrieves a refund by its processor refund ID.
// Returns nil without error when no record exists. An empty ID never
// matches: rows awaiting backfill store '' and must not be picked up here.
func (s *Store) GetRefundByStripeRefundID(ctx context.Context, stripeRefundID string) (*models.Refund, error) {
	if stripeRefundID == "" {
		return nil, nil
	}

	var r models.Refund
	err := s.db.GetContext(ctx, &r, "SELECT * FROM refunds WHERE stripe_refund_id = $1", stripeRefundID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRefundByStripeChargeID retrieves a refund by its processor charge ID.
// Returns nil without error when no record exists.
func (s *Store) GetRefundByStripeChargeID(ctx context.Context, stripeChargeID string) (*models.Refund, error) {
	if stripeChargeID == "" {
		return nil, nil
	}

	var r models.Refund
	err := s.db.GetContext(ctx, &r, "SELECT * FROM refunds WHERE stripe_charge_id = $1", stripeChargeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// HasProcessorRefund reports whether the order already carries a refund
// with a processor refund ID
func (s *Store) HasProcessorRefund(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM refunds WHERE order_id = $1 AND stripe_refund_id <> '')", orderID)
	return exists, err
}

// RefundFilter narrows refund listings
type RefundFilter struct {
	OrderID    int64
	Status     string
	CustomerID int64
	Email      string
}

// ListRefunds retrieves refunds matching the filter, newest first.
// Customer scoping joins through the owning order.
func (s *Store) ListRefunds(ctx context.Context, f RefundFilter) ([]models.Refund, error) {
	query := "SELECT r.* FROM refunds r JOIN orders o ON o.id = r.order_id WHERE 1=1"
	args := []interface{}{}

	if f.OrderID != 0 {
		args = append(args, f.OrderID)
		query += fmt.Sprintf(" AND r.order_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND r.status = $%d", len(args))
	}
	if f.CustomerID != 0 {
		args = append(args, f.CustomerID)
		query += fmt.Sprintf(" AND o.customer_id = $%d", len(args))
	} else if f.Email != "" {
		args = append(args, f.Email)
		query += fmt.Sprintf(" AND o.customer_email = $%d", len(args))
	}

	query += " ORDER BY r.created_at DESC"

	refunds := []models.Refund{}
	err := s.db.SelectContext(ctx, &refunds, query, args...)
	return refunds, err
}

// UpdateRefundStatus updates a refund's status
func (s *Store) UpdateRefundStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE refunds SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	return err
}

// BackfillRefundIdentifiers fills missing processor identifiers on a refund
// created outside the processing engine
func (s *Store) BackfillRefundIdentifiers(ctx context.Context, id int64, stripeRefundID, stripeChargeID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refunds SET
			stripe_refund_id = CASE WHEN stripe_refund_id = '' THEN $1 ELSE stripe_refund_id END,
			stripe_charge_id = CASE WHEN stripe_charge_id = '' THEN $2 ELSE stripe_charge_id END,
			updated_at = NOW()
		WHERE id = $3`,
		stripeRefundID, stripeChargeID, id)
	return err
}

// CreateRefundRequest creates a new refund request
func (s *Store) CreateRefundRequest(ctx context.Context, req *models.RefundRequest) error {
	query := `
		INSERT INTO refund_requests (order_id, customer_id, customer_email, type, amount,
			currency, reason, items, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		req.OrderID, req.CustomerID, req.CustomerEmail, req.Type, req.Amount,
		req.Currency, req.Reason, req.Items, req.Status).
		Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
}

// GetRefundRequestByID retrieves a refund request by ID
func (s *Store) GetRefundRequestByID(ctx context.Context, id int64) (*models.RefundRequest, error) {
	var req models.RefundRequest
	err := s.db.GetContext(ctx, &req, "SELECT * FROM refund_requests WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", refund.ErrRequestNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// HasActiveRequestForOrder reports whether a pending or approved request
// exists for the order
func (s *Store) HasActiveRequestForOrder(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM refund_requests WHERE order_id = $1 AND status IN ($2, $3))",
		orderID, models.RequestStatusPending, models.RequestStatusApproved)
	return exists, err
}

// RequestFilter narrows refund request listings
type RequestFilter struct {
	OrderID    int64
	Status     string
	CustomerID int64
	Email      string
}

// ListRefundRequests retrieves refund requests matching the filter, newest first
func (s *Store) ListRefundRequests(ctx context.Context, f RequestFilter) ([]models.RefundRequest, error) {
	query := "SELECT * FROM refund_requests WHERE 1=1"
	args := []interface{}{}

	if f.OrderID != 0 {
		args = append(args, f.OrderID)
		query += fmt.Sprintf(" AND order_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.CustomerID != 0 {
		args = append(args, f.CustomerID)
		query += fmt.Sprintf(" AND customer_id = $%d", len(args))
	} else if f.Email != "" {
		args = append(args, f.Email)
		query += fmt.Sprintf(" AND customer_email = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	requests := []models.RefundRequest{}
	err := s.db.SelectContext(ctx, &requests, query, args...)
	return requests, err
}

// UpdateRequestReview transitions a request out of pending, recording the
// reviewer. The WHERE clause guards against concurrent review.
func (s *Store) UpdateRequestReview(ctx context.Context, id int64, status string, reviewerID int64, rejectionReason string) error {
	var rejection sql.NullString
	if rejectionReason != "" {
		rejection = sql.NullString{String: rejectionReason, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE refund_requests
		SET status = $1, rejection_reason = $2, reviewed_by = $3, reviewed_at = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6`,
		status, rejection, sql.NullInt64{Int64: reviewerID, Valid: reviewerID != 0},
		time.Now(), id, models.RequestStatusPending)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return refund.ErrNotPending
	}
	return nil
}

// CancelRequest transitions a pending request to cancelled
func (s *Store) CancelRequest(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE refund_requests SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.RequestStatusCancelled, id, models.RequestStatusPending)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return refund.ErrNotPending
	}
	return nil
}

// LinkRefundToRequest records the refund produced from an approved request
func (s *Store) LinkRefundToRequest(ctx context.Context, requestID, refundID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE refund_requests SET refund_id = $1, updated_at = NOW() WHERE id = $2",
		refundID, requestID)
	return err
}

// GetPendingOutboxEntries retrieves outbox entries still awaiting
// reconciliation, oldest first
func (s *Store) GetPendingOutboxEntries(ctx context.Context, limit int) ([]models.OutboxEntry, error) {
	entries := []models.OutboxEntry{}
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM refund_outbox WHERE done = FALSE ORDER BY created_at LIMIT $1", limit)
	return entries, err
}

// MarkOutboxDone marks the outbox entry for a refund as reconciled
func (s *Store) MarkOutboxDone(ctx context.Context, refundID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE refund_outbox SET done = TRUE, updated_at = NOW() WHERE refund_id = $1",
		refundID)
	return err
}

// RecomputeOrderRefundState rewrites an order's refund aggregates from
// the refund rows themselves. Idempotent, so the reconciliation sweep can
// retry it safely after a partial failure.
func (s *Store) RecomputeOrderRefundState(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders o SET
			total_refunded = agg.total,
			status = CASE
				WHEN o.amount > 0 AND agg.total >= o.amount THEN 'refunded'
				WHEN agg.total > 0 THEN 'partially_refunded'
				ELSE o.status
			END,
			updated_at = NOW()
		FROM (
			SELECT COALESCE(SUM(amount), 0) AS total
			FROM refunds
			WHERE order_id = $1 AND status <> 'failed'
		) agg
		WHERE o.id = $1`,
		orderID)
	return err
}

// RecordOutboxAttempt bumps the attempt counter and stores the last error
func (s *Store) RecordOutboxAttempt(ctx context.Context, entryID int64, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refund_outbox
		SET attempts = attempts + 1, last_error = $1, updated_at = NOW()
		WHERE id = $2`,
		sql.NullString{String: lastError, Valid: lastError != ""}, entryID)
	return err
}
