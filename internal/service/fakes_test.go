package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"refund-service/internal/gateway"
	"refund-service/internal/models"
	"refund-service/internal/refund"
	"refund-service/internal/store"
)

// fakeStore is an in-memory record store for service tests.
type fakeStore struct {
	mu       sync.Mutex
	orders   map[int64]*models.Order
	refunds  map[int64]*models.Refund
	requests map[int64]*models.RefundRequest
	nextID   int64

	outboxDone map[int64]bool
	backfilled bool

	failCreateRefund bool
	failOrderUpdate  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:     make(map[int64]*models.Order),
		refunds:    make(map[int64]*models.Refund),
		requests:   make(map[int64]*models.RefundRequest),
		outboxDone: make(map[int64]bool),
	}
}

func (f *fakeStore) addOrder(o *models.Order) *models.Order {
	f.orders[o.ID] = o
	return o
}

func (f *fakeStore) addRefund(r *models.Refund) *models.Refund {
	f.nextID++
	r.ID = f.nextID
	f.refunds[r.ID] = r
	return r
}

func (f *fakeStore) addRequest(r *models.RefundRequest) *models.RefundRequest {
	f.nextID++
	r.ID = f.nextID
	f.requests[r.ID] = r
	return r
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", refund.ErrOrderNotFound, id)
	}
	return order, nil
}

func (f *fakeStore) GetOrderWithTransactions(ctx context.Context, id int64) (*models.Order, error) {
	return f.GetOrderByID(ctx, id)
}

func (f *fakeStore) UpdateOrderRefundState(ctx context.Context, orderID, totalRefunded int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOrderUpdate {
		return errors.New("connection reset")
	}
	order := f.orders[orderID]
	order.TotalRefunded = totalRefunded
	order.Status = status
	return nil
}

func (f *fakeStore) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[orderID].Status = status
	return nil
}

func (f *fakeStore) UpdateTransactionStatus(ctx context.Context, txID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.orders {
		for i := range order.Transactions {
			if order.Transactions[i].ID == txID {
				order.Transactions[i].Status = status
				return nil
			}
		}
	}
	return nil
}

func (f *fakeStore) RecomputeOrderRefundState(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := f.orders[orderID]
	var total int64
	for _, r := range f.refunds {
		if r.OrderID == orderID && r.Status != models.RefundStatusFailed {
			total += r.Amount
		}
	}
	order.TotalRefunded = total
	if order.Amount > 0 && total >= order.Amount {
		order.Status = models.OrderStatusRefunded
	} else if total > 0 {
		order.Status = models.OrderStatusPartiallyRefunded
	}
	return nil
}

func (f *fakeStore) CreateRefundWithOutbox(ctx context.Context, r *models.Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateRefund {
		return errors.New("connection reset")
	}
	f.nextID++
	r.ID = f.nextID
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	f.refunds[r.ID] = r
	f.outboxDone[r.ID] = false
	return nil
}

func (f *fakeStore) GetRefundByID(ctx context.Context, id int64) (*models.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refunds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", refund.ErrRefundNotFound, id)
	}
	return r, nil
}

func (f *fakeStore) GetRefundByStripeRefundID(ctx context.Context, stripeRefundID string) (*models.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.refunds {
		if r.StripeRefundID == stripeRefundID && stripeRefundID != "" {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetRefundByStripeChargeID(ctx context.Context, stripeChargeID string) (*models.Refund, error) {
	if stripeChargeID == "" {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.refunds {
		if r.StripeChargeID == stripeChargeID {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) HasProcessorRefund(ctx context.Context, orderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.refunds {
		if r.OrderID == orderID && r.StripeRefundID != "" {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListRefunds(ctx context.Context, flt store.RefundFilter) ([]models.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Refund{}
	for _, r := range f.refunds {
		if flt.OrderID != 0 && r.OrderID != flt.OrderID {
			continue
		}
		if flt.Status != "" && r.Status != flt.Status {
			continue
		}
		order := f.orders[r.OrderID]
		if flt.CustomerID != 0 && (order == nil || order.CustomerID != flt.CustomerID) {
			continue
		}
		if flt.CustomerID == 0 && flt.Email != "" && (order == nil || order.CustomerEmail != flt.Email) {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) UpdateRefundStatus(ctx context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds[id].Status = status
	return nil
}

func (f *fakeStore) BackfillRefundIdentifiers(ctx context.Context, id int64, stripeRefundID, stripeChargeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.refunds[id]
	if r.StripeRefundID == "" {
		r.StripeRefundID = stripeRefundID
	}
	if r.StripeChargeID == "" {
		r.StripeChargeID = stripeChargeID
	}
	f.backfilled = true
	return nil
}

func (f *fakeStore) MarkOutboxDone(ctx context.Context, refundID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outboxDone[refundID] = true
	return nil
}

func (f *fakeStore) CreateRefundRequest(ctx context.Context, req *models.RefundRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	req.ID = f.nextID
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	f.requests[req.ID] = req
	return nil
}

func (f *fakeStore) GetRefundRequestByID(ctx context.Context, id int64) (*models.RefundRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", refund.ErrRequestNotFound, id)
	}
	return req, nil
}

func (f *fakeStore) HasActiveRequestForOrder(ctx context.Context, orderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.requests {
		if req.OrderID == orderID &&
			(req.Status == models.RequestStatusPending || req.Status == models.RequestStatusApproved) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListRefundRequests(ctx context.Context, flt store.RequestFilter) ([]models.RefundRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.RefundRequest{}
	for _, req := range f.requests {
		if flt.OrderID != 0 && req.OrderID != flt.OrderID {
			continue
		}
		if flt.Status != "" && req.Status != flt.Status {
			continue
		}
		if flt.CustomerID != 0 && (!req.CustomerID.Valid || req.CustomerID.Int64 != flt.CustomerID) {
			continue
		}
		if flt.CustomerID == 0 && flt.Email != "" && req.CustomerEmail != flt.Email {
			continue
		}
		out = append(out, *req)
	}
	return out, nil
}

func (f *fakeStore) UpdateRequestReview(ctx context.Context, id int64, status string, reviewerID int64, rejectionReason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := f.requests[id]
	if req.Status != models.RequestStatusPending {
		return refund.ErrNotPending
	}
	req.Status = status
	if rejectionReason != "" {
		req.RejectionReason.String = rejectionReason
		req.RejectionReason.Valid = true
	}
	if reviewerID != 0 {
		req.ReviewedBy.Int64 = reviewerID
		req.ReviewedBy.Valid = true
	}
	req.ReviewedAt.Time = time.Now()
	req.ReviewedAt.Valid = true
	return nil
}

func (f *fakeStore) CancelRequest(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := f.requests[id]
	if req.Status != models.RequestStatusPending {
		return refund.ErrNotPending
	}
	req.Status = models.RequestStatusCancelled
	return nil
}

func (f *fakeStore) LinkRefundToRequest(ctx context.Context, requestID, refundID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := f.requests[requestID]
	req.RefundID.Int64 = refundID
	req.RefundID.Valid = true
	return nil
}

// fakeGateway returns a canned processor response and records calls.
type fakeGateway struct {
	result *gateway.RefundResult
	err    error

	fullCalls    int
	partialCalls int
	lastAmount   int64
	lastReason   string
	lastIntent   string
}

func (g *fakeGateway) RefundFull(ctx context.Context, paymentIntentID, reason, idempotencyKey string) (*gateway.RefundResult, error) {
	g.fullCalls++
	g.lastIntent = paymentIntentID
	g.lastReason = reason
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func (g *fakeGateway) RefundPartial(ctx context.Context, paymentIntentID string, amount int64, reason, idempotencyKey string) (*gateway.RefundResult, error) {
	g.partialCalls++
	g.lastIntent = paymentIntentID
	g.lastAmount = amount
	g.lastReason = reason
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func (g *fakeGateway) calls() int {
	return g.fullCalls + g.partialCalls
}

// fakeLocker mimics the redis per-order mutex.
type fakeLocker struct {
	mu   sync.Mutex
	held map[int64]string
	deny bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[int64]string)}
}

func (l *fakeLocker) AcquireOrderLock(ctx context.Context, orderID int64, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny {
		return false, nil
	}
	if _, taken := l.held[orderID]; taken {
		return false, nil
	}
	l.held[orderID] = token
	return true, nil
}

func (l *fakeLocker) ReleaseOrderLock(ctx context.Context, orderID int64, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[orderID] == token {
		delete(l.held, orderID)
	}
	return nil
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}

func succeededResult(amount int64) *gateway.RefundResult {
	return &gateway.RefundResult{
		ID:              "re_test_1",
		Status:          "succeeded",
		ChargeID:        "ch_test_1",
		PaymentIntentID: "pi_test_1",
		Amount:          amount,
	}
}

func completedOrder(id int64) *models.Order {
	return &models.Order{
		ID:            id,
		CustomerID:    10,
		CustomerEmail: "alice@example.com",
		Amount:        5000,
		Currency:      "gbp",
		Status:        models.OrderStatusCompleted,
		Transactions: []models.Transaction{
			{
				ID:              100,
				OrderID:         id,
				Amount:          5000,
				Status:          models.TransactionStatusSucceeded,
				PaymentMethod:   models.PaymentMethodStripe,
				PaymentIntentID: "pi_test_1",
			},
		},
	}
}
