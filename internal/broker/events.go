package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"refund-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing refund domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishRequestCreated publishes RefundRequestCreated event
func (ep *EventPublisher) PublishRequestCreated(ctx context.Context, event *models.RequestCreatedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishRequestReviewed publishes RefundRequestApproved/Rejected events
func (ep *EventPublisher) PublishRequestReviewed(ctx context.Context, event *models.RequestReviewedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishRequestCancelled publishes RefundRequestCancelled event
func (ep *EventPublisher) PublishRequestCancelled(ctx context.Context, event *models.RequestCancelledEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishRefundProcessed publishes RefundProcessed event
func (ep *EventPublisher) PublishRefundProcessed(ctx context.Context, event *models.RefundProcessedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishRefundReconciled publishes RefundReconciled event
func (ep *EventPublisher) PublishRefundReconciled(ctx context.Context, event *models.RefundReconciledEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// WebhookQueue enqueues verified Stripe refund events for the reconciler
// worker. The webhook HTTP handler publishes and acks immediately; the
// reconciler consumes at-least-once.
type WebhookQueue struct {
	producer *Producer
}

// NewWebhookQueue creates a new webhook queue backed by a Kafka topic
func NewWebhookQueue(producer *Producer) *WebhookQueue {
	return &WebhookQueue{producer: producer}
}

// Enqueue publishes a verified processor event, keyed by the processor
// refund ID so replays of one refund stay ordered
func (q *WebhookQueue) Enqueue(ctx context.Context, event *models.StripeRefundEvent) error {
	return q.producer.PublishEvent(ctx, event.StripeRefundID, event)
}

// EventHandler routes consumed webhook messages to the reconciler
type EventHandler struct {
	onStripeRefund func(context.Context, *models.StripeRefundEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnStripeRefund registers a handler for Stripe refund webhook events
func (eh *EventHandler) OnStripeRefund(handler func(context.Context, *models.StripeRefundEvent) error) {
	eh.onStripeRefund = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeStripeRefund:
		if eh.onStripeRefund != nil {
			var event models.StripeRefundEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal StripeRefund event: %w", err)
			}
			return eh.onStripeRefund(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
