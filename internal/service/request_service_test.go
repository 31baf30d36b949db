package service

import (
	"context"
	"testing"

	"refund-service/internal/models"
	"refund-service/internal/refund"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestCreate_FullAmountDerived(t *testing.T) {
	fs := newFakeStore()
	fs.addOrder(completedOrder(1))
	svc := NewRequestService(fs, nil)

	request, err := svc.Create(context.Background(), CreateRequestInput{
		OrderID: 1,
		Type:    models.RefundTypeFull,
		Reason:  "arrived damaged",
		Actor:   models.Actor{UserID: 10, Email: "alice@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5000), request.Amount, "full request takes the refundable amount")
	assert.Equal(t, "gbp", request.Currency, "currency carried from the order")
	assert.Equal(t, models.RequestStatusPending, request.Status)
	require.True(t, request.CustomerID.Valid)
	assert.Equal(t, int64(10), request.CustomerID.Int64)
	assert.Equal(t, "alice@example.com", request.CustomerEmail)
}

func TestRequestCreate_GuestByEmail(t *testing.T) {
	fs := newFakeStore()
	order := completedOrder(1)
	order.CustomerID = 0
	order.CustomerEmail = "guest@example.com"
	fs.addOrder(order)
	svc := NewRequestService(fs, nil)

	request, err := svc.Create(context.Background(), CreateRequestInput{
		OrderID: 1,
		Type:    models.RefundTypeFull,
		Reason:  "changed my mind",
		Email:   "guest@example.com",
	})
	require.NoError(t, err)

	assert.False(t, request.CustomerID.Valid)
	assert.Equal(t, "guest@example.com", request.CustomerEmail)
}

func TestRequestCreate_Unauthorized(t *testing.T) {
	fs := newFakeStore()
	fs.addOrder(completedOrder(1))
	svc := NewRequestService(fs, nil)

	_, err := svc.Create(context.Background(), CreateRequestInput{
		OrderID: 1,
		Type:    models.RefundTypeFull,
		Reason:  "not my order",
		Actor:   models.Actor{UserID: 77},
	})
	assert.ErrorIs(t, err, refund.ErrUnauthorized)

	_, err = svc.Create(context.Background(), CreateRequestInput{
		OrderID: 1,
		Type:    models.RefundTypeFull,
		Reason:  "wrong guest email",
		Email:   "stranger@example.com",
	})
	assert.ErrorIs(t, err, refund.ErrUnauthorized)
}

func TestRequestCreate_DuplicateActiveRequest(t *testing.T) {
	fs := newFakeStore()
	fs.addOrder(completedOrder(1))
	fs.addRequest(&models.RefundRequest{OrderID: 1, Status: models.RequestStatusPending})
	svc := NewRequestService(fs, nil)

	_, err := svc.Create(context.Background(), CreateRequestInput{
		OrderID: 1,
		Type:    models.RefundTypeFull,
		Reason:  "second attempt",
		Actor:   models.Actor{UserID: 10},
	})

	assert.ErrorIs(t, err, refund.ErrDuplicateRequest)
}

func TestRequestCreate_AfterRejectionAllowed(t *testing.T) {
	fs := newFakeStore()
	fs.addOrder(completedOrder(1))
	fs.addRequest(&models.RefundRequest{OrderID: 1, Status: models.RequestStatusRejected})
	svc := NewRequestService(fs, nil)

	_, err := svc.Create(context.Background(), CreateRequestInput{
		OrderID: 1,
		Type:    models.RefundTypeFull,
		Reason:  "trying again",
		Actor:   models.Actor{UserID: 10},
	})

	assert.NoError(t, err, "rejected and cancelled requests do not block new ones")
}

func TestRequestCreate_PartialValidation(t *testing.T) {
	fs := newFakeStore()
	fs.addOrder(completedOrder(1))
	svc := NewRequestService(fs, nil)
	actor := models.Actor{UserID: 10}

	_, err := svc.Create(context.Background(), CreateRequestInput{
		OrderID: 1, Type: models.RefundTypePartial, Reason: "r", Actor: actor,
	})
	assert.ErrorIs(t, err, refund.ErrInvalidAmount, "partial needs a positive amount")

	_, err = svc.Create(context.Background(), CreateRequestInput{
		OrderID: 1, Type: models.RefundTypePartial, Amount: 9000, Reason: "r", Actor: actor,
	})
	assert.ErrorIs(t, err, refund.ErrAmountExceedsRefundable)
}

func TestRequestReview_ApproveAndReject(t *testing.T) {
	fs := newFakeStore()
	fs.addOrder(completedOrder(1))
	svc := NewRequestService(fs, nil)
	admin := models.Actor{UserID: 99, Admin: true}

	first := fs.addRequest(&models.RefundRequest{OrderID: 1, Status: models.RequestStatusPending})
	approved, err := svc.Approve(context.Background(), first.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, approved.Status)
	require.True(t, approved.ReviewedBy.Valid)
	assert.Equal(t, int64(99), approved.ReviewedBy.Int64)
	assert.True(t, approved.ReviewedAt.Valid)

	second := fs.addRequest(&models.RefundRequest{OrderID: 1, Status: models.RequestStatusPending})
	rejected, err := svc.Reject(context.Background(), second.ID, admin, "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, rejected.Status)
	require.True(t, rejected.RejectionReason.Valid)
	assert.Equal(t, "Refund request rejected", rejected.RejectionReason.String)
}

func TestRequestReview_AdminOnly(t *testing.T) {
	fs := newFakeStore()
	request := fs.addRequest(&models.RefundRequest{OrderID: 1, Status: models.RequestStatusPending})
	svc := NewRequestService(fs, nil)

	_, err := svc.Approve(context.Background(), request.ID, models.Actor{UserID: 10})
	assert.ErrorIs(t, err, refund.ErrUnauthorized)

	_, err = svc.Reject(context.Background(), request.ID, models.Actor{UserID: 10}, "nope")
	assert.ErrorIs(t, err, refund.ErrUnauthorized)
}

func TestRequestReview_NotPending(t *testing.T) {
	fs := newFakeStore()
	request := fs.addRequest(&models.RefundRequest{OrderID: 1, Status: models.RequestStatusApproved})
	svc := NewRequestService(fs, nil)

	_, err := svc.Approve(context.Background(), request.ID, models.Actor{UserID: 99, Admin: true})
	assert.ErrorIs(t, err, refund.ErrNotPending)
}

func TestRequestCancel(t *testing.T) {
	fs := newFakeStore()
	svc := NewRequestService(fs, nil)

	owned := fs.addRequest(&models.RefundRequest{
		OrderID:    1,
		Status:     models.RequestStatusPending,
		CustomerID: nullInt64(10),
	})
	err := svc.Cancel(context.Background(), owned.ID, models.Actor{UserID: 10}, "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, owned.Status)

	other := fs.addRequest(&models.RefundRequest{
		OrderID:    1,
		Status:     models.RequestStatusPending,
		CustomerID: nullInt64(10),
	})
	err = svc.Cancel(context.Background(), other.ID, models.Actor{UserID: 11}, "")
	assert.ErrorIs(t, err, refund.ErrUnauthorized)

	guest := fs.addRequest(&models.RefundRequest{
		OrderID:       1,
		Status:        models.RequestStatusPending,
		CustomerEmail: "guest@example.com",
	})
	err = svc.Cancel(context.Background(), guest.ID, models.Actor{}, "guest@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, guest.Status)
}

func TestRequestCancel_NotPending(t *testing.T) {
	fs := newFakeStore()
	request := fs.addRequest(&models.RefundRequest{
		OrderID:    1,
		Status:     models.RequestStatusApproved,
		CustomerID: nullInt64(10),
	})
	svc := NewRequestService(fs, nil)

	err := svc.Cancel(context.Background(), request.ID, models.Actor{UserID: 10}, "")
	assert.ErrorIs(t, err, refund.ErrNotPending)
}

func TestRequestGetAndList_Scoping(t *testing.T) {
	fs := newFakeStore()
	request := fs.addRequest(&models.RefundRequest{
		OrderID:       1,
		Status:        models.RequestStatusPending,
		CustomerID:    nullInt64(10),
		CustomerEmail: "alice@example.com",
	})
	svc := NewRequestService(fs, nil)
	ctx := context.Background()

	_, err := svc.Get(ctx, request.ID, models.Actor{Admin: true}, "")
	assert.NoError(t, err)

	_, err = svc.Get(ctx, request.ID, models.Actor{UserID: 10}, "")
	assert.NoError(t, err)

	_, err = svc.Get(ctx, request.ID, models.Actor{UserID: 11}, "")
	assert.ErrorIs(t, err, refund.ErrUnauthorized)

	_, err = svc.List(ctx, 0, "", models.Actor{}, "")
	assert.ErrorIs(t, err, refund.ErrUnauthorized, "guest listing requires an email")

	got, err := svc.List(ctx, 0, "", models.Actor{UserID: 10}, "")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
