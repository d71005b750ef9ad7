package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

func TestNormalizeCheckoutCompleted(t *testing.T) {
	raw := checkoutEvent("evt_1", "u1", "Pro", 100).payload(t)

	evt, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.EventID)
	assert.Equal(t, EventCheckoutCompleted, evt.Type)
	assert.Equal(t, "checkout.session.completed", evt.ProviderType)
	assert.Equal(t, "u1", evt.UserID)
	assert.Equal(t, entitlements.TierPro, evt.Tier)
	assert.Equal(t, "cus_u1", evt.ProviderCustomerID)
	assert.Equal(t, int64(100), evt.OccurredAt)
	assert.Equal(t, raw, evt.RawPayload)
}

func TestNormalizeSubscriptionTypes(t *testing.T) {
	updated, err := Normalize(subscriptionEvent("evt_2", "customer.subscription.updated", "u1", "Past_Due", 200).payload(t))
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionUpdated, updated.Type)
	assert.Equal(t, "past_due", updated.ProviderStatus)

	deleted, err := Normalize(subscriptionEvent("evt_3", "customer.subscription.deleted", "u1", "canceled", 300).payload(t))
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionCanceled, deleted.Type)

	other, err := Normalize(subscriptionEvent("evt_4", "invoice.paid", "u1", "", 400).payload(t))
	require.NoError(t, err)
	assert.Equal(t, EventOther, other.Type)
	assert.Equal(t, "invoice.paid", other.ProviderType)
}

func TestNormalizeIdentity(t *testing.T) {
	fallback := subscriptionEvent("evt_1", "customer.subscription.updated", "", "active", 1)
	fallback.Metadata = map[string]string{"userId": "u9"}
	evt, err := Normalize(fallback.payload(t))
	require.NoError(t, err)
	assert.Equal(t, "u9", evt.UserID)

	emailOnly := subscriptionEvent("evt_2", "customer.subscription.updated", "", "active", 1)
	emailOnly.Metadata = map[string]string{"email": "someone@example.com"}
	evt, err = Normalize(emailOnly.payload(t))
	require.NoError(t, err)
	assert.Empty(t, evt.UserID)
}

func TestNormalizeExpandedCustomer(t *testing.T) {
	e := subscriptionEvent("evt_1", "customer.subscription.updated", "u1", "active", 1)
	e.Customer = map[string]any{"id": "cus_expanded", "object": "customer"}

	evt, err := Normalize(e.payload(t))
	require.NoError(t, err)
	assert.Equal(t, "cus_expanded", evt.ProviderCustomerID)
}

func TestNormalizeUnknownTierIsDropped(t *testing.T) {
	evt, err := Normalize(checkoutEvent("evt_1", "u1", "platinum", 1).payload(t))
	require.NoError(t, err)
	assert.Empty(t, evt.Tier)
}

func TestNormalizeMalformed(t *testing.T) {
	tests := map[string][]byte{
		"not json":        []byte(`{`),
		"missing id":      []byte(`{"type":"invoice.paid","created":1,"data":{"object":{}}}`),
		"missing created": []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`),
		"missing data":    []byte(`{"id":"evt_1","type":"invoice.paid","created":1}`),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(raw)
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}
