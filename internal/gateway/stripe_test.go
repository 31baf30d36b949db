package gateway

import (
	"context"
	"testing"

	"refund-service/internal/refund"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefundPartial_RejectsNonPositiveAmount(t *testing.T) {
	c := NewStripeClient(Config{SecretKey: "sk_test_x"})

	// Must fail before any network call is attempted.
	_, err := c.RefundPartial(context.Background(), "pi_123", 0, "", "key")
	assert.ErrorIs(t, err, refund.ErrInvalidAmount)

	_, err = c.RefundPartial(context.Background(), "pi_123", -500, "", "key")
	assert.ErrorIs(t, err, refund.ErrInvalidAmount)
}

func TestRefundResultSucceeded(t *testing.T) {
	assert.True(t, (&RefundResult{Status: "succeeded"}).Succeeded())
	assert.False(t, (&RefundResult{Status: "pending"}).Succeeded())
	assert.False(t, (&RefundResult{Status: "failed"}).Succeeded())
}

func TestExtractRefundEvent_RefundKinds(t *testing.T) {
	raw := []byte(`{"id":"re_1","status":"succeeded","amount":2000,"charge":{"id":"ch_1"}}`)

	ev, err := extractRefundEvent("evt_1", "refund.updated", raw)
	require.NoError(t, err)

	assert.Equal(t, "evt_1", ev.StripeEventID)
	assert.Equal(t, "re_1", ev.StripeRefundID)
	assert.Equal(t, "ch_1", ev.StripeChargeID)
	assert.Equal(t, "succeeded", ev.Status)
	assert.Equal(t, int64(2000), ev.Amount)
}

func TestExtractRefundEvent_ChargeRefundedTakesNewestRefund(t *testing.T) {
	raw := []byte(`{
		"id": "ch_1",
		"amount_refunded": 3000,
		"refunds": {"object": "list", "data": [
			{"id": "re_new", "status": "succeeded", "amount": 1000},
			{"id": "re_old", "status": "succeeded", "amount": 2000}
		]}
	}`)

	ev, err := extractRefundEvent("evt_2", "charge.refunded", raw)
	require.NoError(t, err)

	assert.Equal(t, "ch_1", ev.StripeChargeID)
	assert.Equal(t, "re_new", ev.StripeRefundID, "list data is newest first")
	assert.Equal(t, int64(1000), ev.Amount)
}

func TestExtractRefundEvent_ChargeRefundedWithoutRefundData(t *testing.T) {
	raw := []byte(`{"id":"ch_1","amount_refunded":3000}`)

	ev, err := extractRefundEvent("evt_3", "charge.refunded", raw)
	require.NoError(t, err)

	assert.Equal(t, "ch_1", ev.StripeChargeID)
	assert.Empty(t, ev.StripeRefundID)
	assert.Equal(t, "succeeded", ev.Status)
	assert.Equal(t, int64(3000), ev.Amount)
}

func TestVerifyWebhook_BadSignature(t *testing.T) {
	c := NewStripeClient(Config{SecretKey: "sk_test_x", WebhookSecret: "whsec_test"})

	_, relevant, err := c.VerifyWebhook([]byte(`{"id":"evt_1"}`), "t=1,v1=bogus")
	assert.Error(t, err)
	assert.False(t, relevant)
}
