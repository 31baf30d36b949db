package gateway

import (
	"context"
	"errors"
	"time"

	"refund-service/internal/models"
	"refund-service/internal/refund"
	"refund-service/internal/util"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// Config carries the Stripe credentials. Injected at construction, never
// read from the environment inside call paths.
type Config struct {
	SecretKey     string
	WebhookSecret string
}

// RefundResult is the processor's immediate response to a refund call.
type RefundResult struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ChargeID        string `json:"charge_id,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	Amount          int64  `json:"amount"`
}

// Succeeded reports whether Stripe confirmed the refund synchronously.
func (r *RefundResult) Succeeded() bool {
	return r.Status == "succeeded"
}

// StripeClient is a thin wrapper over the Stripe API for refund calls and
// webhook verification. One external monetary operation per successful
// refund call; retries must be idempotency-keyed by the caller.
type StripeClient struct {
	api           *client.API
	webhookSecret string
	logger        *zap.Logger
}

// NewStripeClient creates a Stripe-backed gateway client.
func NewStripeClient(cfg Config) *StripeClient {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	return &StripeClient{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		logger:        util.GetLogger(),
	}
}

// RefundFull refunds the full remaining amount of a payment intent.
func (c *StripeClient) RefundFull(ctx context.Context, paymentIntentID, reason, idempotencyKey string) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	return c.createRefund(ctx, params, reason, idempotencyKey)
}

// RefundPartial refunds amount minor units of a payment intent. The amount
// is checked before any network call.
func (c *StripeClient) RefundPartial(ctx context.Context, paymentIntentID string, amount int64, reason, idempotencyKey string) (*RefundResult, error) {
	if amount <= 0 {
		return nil, refund.ErrInvalidAmount
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(amount),
	}
	return c.createRefund(ctx, params, reason, idempotencyKey)
}

func (c *StripeClient) createRefund(ctx context.Context, params *stripe.RefundParams, reason, idempotencyKey string) (*RefundResult, error) {
	params.Context = ctx
	if reason != "" {
		params.Reason = stripe.String(reason)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	start := time.Now()
	r, err := c.api.Refunds.New(params)
	util.GatewayCallLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.GatewayCallsFailed.Inc()
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			c.logger.Error("Stripe refund call rejected",
				zap.String("code", string(stripeErr.Code)),
				zap.String("message", stripeErr.Msg))
			return nil, &refund.GatewayError{Message: stripeErr.Msg, Err: err}
		}
		return nil, &refund.GatewayError{Message: err.Error(), Err: err}
	}

	result := &RefundResult{
		ID:     r.ID,
		Status: string(r.Status),
		Amount: r.Amount,
	}
	if r.Charge != nil {
		result.ChargeID = r.Charge.ID
	}
	if r.PaymentIntent != nil {
		result.PaymentIntentID = r.PaymentIntent.ID
	}

	c.logger.Info("Stripe refund created",
		zap.String("refund_id", result.ID),
		zap.String("status", result.Status),
		zap.Int64("amount", result.Amount))

	return result, nil
}

// Refund webhook event kinds we act on. Everything else is acknowledged
// as a no-op.
var refundEventKinds = map[string]bool{
	"charge.refunded": true,
	"refund.created":  true,
	"refund.updated":  true,
}

// VerifyWebhook checks the Stripe signature on a raw webhook body and, if
// the event concerns a refund, extracts it. relevant is false for valid
// events of other kinds.
func (c *StripeClient) VerifyWebhook(payload []byte, signatureHeader string) (event *models.StripeRefundEvent, relevant bool, err error) {
	stripeEvent, err := webhook.ConstructEvent(payload, signatureHeader, c.webhookSecret)
	if err != nil {
		return nil, false, err
	}

	kind := string(stripeEvent.Type)
	if !refundEventKinds[kind] {
		return nil, false, nil
	}

	ev, err := extractRefundEvent(stripeEvent.ID, kind, stripeEvent.Data.Raw)
	if err != nil {
		return nil, false, err
	}
	return ev, true, nil
}

// extractRefundEvent pulls the refund identifiers out of a verified event
// payload. charge.refunded carries the charge; the refund kinds carry the
// refund itself.
func extractRefundEvent(eventID, kind string, raw []byte) (*models.StripeRefundEvent, error) {
	ev := &models.StripeRefundEvent{
		StripeEventID: eventID,
		Kind:          kind,
	}

	if kind == "charge.refunded" {
		var ch stripe.Charge
		if err := ch.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		ev.StripeChargeID = ch.ID
		if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
			// List data is newest first, so the first element is the
			// refund this event was fired for.
			latest := ch.Refunds.Data[0]
			ev.StripeRefundID = latest.ID
			ev.Status = string(latest.Status)
			ev.Amount = latest.Amount
		} else {
			ev.Status = "succeeded"
			ev.Amount = ch.AmountRefunded
		}
		return ev, nil
	}

	var r stripe.Refund
	if err := r.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	ev.StripeRefundID = r.ID
	ev.Status = string(r.Status)
	ev.Amount = r.Amount
	if r.Charge != nil {
		ev.StripeChargeID = r.Charge.ID
	}

	return ev, nil
}
