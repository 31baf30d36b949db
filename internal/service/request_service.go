package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"refund-service/internal/models"
	"refund-service/internal/refund"
	"refund-service/internal/store"
	"refund-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestService manages the refund request lifecycle:
// pending -> approved | rejected | cancelled.
type RequestService struct {
	store  Store
	events Events
	logger *zap.Logger
}

// NewRequestService creates a new refund request service
func NewRequestService(st Store, events Events) *RequestService {
	return &RequestService{
		store:  st,
		events: events,
		logger: util.GetLogger(),
	}
}

// CreateRequestInput carries a customer's refund request.
type CreateRequestInput struct {
	OrderID int64        `json:"order_id" binding:"required"`
	Type    string       `json:"type" binding:"required,oneof=full partial"`
	Amount  int64        `json:"amount,omitempty"`
	Reason  string       `json:"reason" binding:"required"`
	Items   string       `json:"items,omitempty"`
	Email   string       `json:"email,omitempty"`
	Actor   models.Actor `json:"-"`
}

// Create opens a refund request for an order the actor owns.
func (s *RequestService) Create(ctx context.Context, in CreateRequestInput) (*models.RefundRequest, error) {
	ctx, span := util.StartSpan(ctx, "RequestService.Create")
	defer span.End()

	order, err := s.store.GetOrderWithTransactions(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}

	if !in.Actor.Admin && !ownsOrder(order, in.Actor, in.Email) {
		return nil, refund.ErrUnauthorized
	}

	if err := refund.ValidateOrderCanBeRefunded(order); err != nil {
		return nil, err
	}

	active, err := s.store.HasActiveRequestForOrder(ctx, in.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing requests: %w", err)
	}
	if active {
		return nil, refund.ErrDuplicateRequest
	}

	refundable := refund.RefundableAmount(order.Amount, order.TotalRefunded)
	amount := in.Amount
	switch in.Type {
	case models.RefundTypePartial:
		if amount <= 0 {
			return nil, refund.ErrInvalidAmount
		}
		if amount > refundable {
			return nil, fmt.Errorf("%w: requested %d, refundable %d", refund.ErrAmountExceedsRefundable, amount, refundable)
		}
	case models.RefundTypeFull:
		amount = refundable
	default:
		return nil, fmt.Errorf("%w: unknown refund type %q", refund.ErrMissingFields, in.Type)
	}

	request := &models.RefundRequest{
		OrderID:       in.OrderID,
		CustomerEmail: in.Email,
		Type:          in.Type,
		Amount:        amount,
		Currency:      order.Currency,
		Reason:        in.Reason,
		Status:        models.RequestStatusPending,
	}
	if in.Actor.UserID != 0 {
		request.CustomerID = sql.NullInt64{Int64: in.Actor.UserID, Valid: true}
		if request.CustomerEmail == "" {
			request.CustomerEmail = in.Actor.Email
		}
	}
	if in.Items != "" {
		request.Items = sql.NullString{String: in.Items, Valid: true}
	}

	if err := s.store.CreateRefundRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to create refund request: %w", err)
	}

	util.RefundRequestsCreatedTotal.Inc()
	s.logger.Info("Refund request created",
		zap.Int64("request_id", request.ID),
		zap.Int64("order_id", in.OrderID),
		zap.String("type", in.Type),
		zap.Int64("amount", amount))

	if s.events != nil {
		event := &models.RequestCreatedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeRequestCreated,
				Timestamp: time.Now(),
			},
			RequestID: request.ID,
			OrderID:   in.OrderID,
			Type:      in.Type,
			Amount:    amount,
		}
		if err := s.events.PublishRequestCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish RequestCreated event", zap.Error(err))
		}
	}

	return request, nil
}

// Approve moves a pending request to approved. Admin only.
func (s *RequestService) Approve(ctx context.Context, id int64, actor models.Actor) (*models.RefundRequest, error) {
	ctx, span := util.StartSpan(ctx, "RequestService.Approve")
	defer span.End()

	return s.review(ctx, id, actor, models.RequestStatusApproved, "")
}

// Reject moves a pending request to rejected, recording the reason.
// Admin only.
func (s *RequestService) Reject(ctx context.Context, id int64, actor models.Actor, rejectionReason string) (*models.RefundRequest, error) {
	ctx, span := util.StartSpan(ctx, "RequestService.Reject")
	defer span.End()

	if rejectionReason == "" {
		rejectionReason = "Refund request rejected"
	}
	return s.review(ctx, id, actor, models.RequestStatusRejected, rejectionReason)
}

func (s *RequestService) review(ctx context.Context, id int64, actor models.Actor, status, rejectionReason string) (*models.RefundRequest, error) {
	if !actor.Admin {
		return nil, refund.ErrUnauthorized
	}

	request, err := s.store.GetRefundRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RequestStatusPending {
		return nil, refund.ErrNotPending
	}

	if err := s.store.UpdateRequestReview(ctx, id, status, actor.UserID, rejectionReason); err != nil {
		return nil, err
	}

	util.RefundRequestsReviewedTotal.WithLabelValues(status).Inc()
	s.logger.Info("Refund request reviewed",
		zap.Int64("request_id", id),
		zap.String("decision", status),
		zap.Int64("admin_id", actor.UserID))

	if s.events != nil {
		event := &models.RequestReviewedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: reviewEventType(status),
				Timestamp: time.Now(),
			},
			RequestID: id,
			OrderID:   request.OrderID,
			Status:    status,
			Reason:    rejectionReason,
			AdminID:   actor.UserID,
		}
		if err := s.events.PublishRequestReviewed(ctx, event); err != nil {
			s.logger.Error("Failed to publish RequestReviewed event", zap.Error(err))
		}
	}

	return s.store.GetRefundRequestByID(ctx, id)
}

func reviewEventType(status string) string {
	if status == models.RequestStatusApproved {
		return models.EventTypeRequestApproved
	}
	return models.EventTypeRequestRejected
}

// Cancel withdraws a pending request. Only the original requester may
// cancel; guests match on the stored email.
func (s *RequestService) Cancel(ctx context.Context, id int64, actor models.Actor, guestEmail string) error {
	ctx, span := util.StartSpan(ctx, "RequestService.Cancel")
	defer span.End()

	request, err := s.store.GetRefundRequestByID(ctx, id)
	if err != nil {
		return err
	}

	if !ownsRequest(request, actor, guestEmail) {
		return refund.ErrUnauthorized
	}
	if request.Status != models.RequestStatusPending {
		return refund.ErrNotPending
	}

	if err := s.store.CancelRequest(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Refund request cancelled", zap.Int64("request_id", id))

	if s.events != nil {
		event := &models.RequestCancelledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeRequestCancelled,
				Timestamp: time.Now(),
			},
			RequestID: id,
			OrderID:   request.OrderID,
		}
		if err := s.events.PublishRequestCancelled(ctx, event); err != nil {
			s.logger.Error("Failed to publish RequestCancelled event", zap.Error(err))
		}
	}

	return nil
}

// Get retrieves a refund request, scoped to its owner unless the actor is
// an admin. Guests get read access with a matching email.
func (s *RequestService) Get(ctx context.Context, id int64, actor models.Actor, guestEmail string) (*models.RefundRequest, error) {
	request, err := s.store.GetRefundRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !actor.Admin && !ownsRequest(request, actor, guestEmail) {
		return nil, refund.ErrUnauthorized
	}

	return request, nil
}

// List retrieves refund requests; owners see their own, admins see all.
func (s *RequestService) List(ctx context.Context, orderID int64, status string, actor models.Actor, guestEmail string) ([]models.RefundRequest, error) {
	f := store.RequestFilter{OrderID: orderID, Status: status}

	if !actor.Admin {
		if actor.UserID != 0 {
			f.CustomerID = actor.UserID
		} else if guestEmail != "" {
			f.Email = guestEmail
		} else {
			return nil, refund.ErrUnauthorized
		}
	}

	return s.store.ListRefundRequests(ctx, f)
}

func ownsRequest(request *models.RefundRequest, actor models.Actor, guestEmail string) bool {
	if actor.UserID != 0 {
		return request.CustomerID.Valid && request.CustomerID.Int64 == actor.UserID
	}
	return guestEmail != "" && guestEmail == request.CustomerEmail
}
