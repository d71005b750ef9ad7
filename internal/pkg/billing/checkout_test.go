package billing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

type fakeSessionCreator struct {
	calls  []*stripe.CheckoutSessionParams
	result *stripe.CheckoutSession
	err    error
}

func (f *fakeSessionCreator) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestMinter(creator SessionCreator) *SessionMinter {
	return NewSessionMinter(creator, CheckoutConfig{
		Prices: PriceTable{
			entitlements.TierBasic: "price_basic",
			entitlements.TierPro:   "price_pro",
			entitlements.TierElite: "price_elite",
		},
		SuccessURL: "https://app.example.com/success",
		CancelURL:  "https://app.example.com/cancel",
	})
}

func TestCreateSessionEmbedsIdentity(t *testing.T) {
	creator := &fakeSessionCreator{result: &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}}
	m := newTestMinter(creator)
	m.newKey = func() string { return "idem-1" }

	ref, err := m.CreateSession(context.Background(), CheckoutRequest{UserID: "u1", Email: "a@b.co", Tier: "elite"})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", ref.SessionID)
	assert.Equal(t, "https://checkout.example/cs_1", ref.URL)
	assert.Equal(t, CheckoutIntent{UserID: "u1", Tier: entitlements.TierElite, SessionID: "cs_1"}, ref.Intent)

	require.Len(t, creator.calls, 1)
	params := creator.calls[0]
	assert.Equal(t, "subscription", stripe.StringValue(params.Mode))
	assert.Equal(t, "price_elite", stripe.StringValue(params.LineItems[0].Price))
	assert.Equal(t, int64(1), stripe.Int64Value(params.LineItems[0].Quantity))
	assert.Equal(t, "a@b.co", stripe.StringValue(params.CustomerEmail))
	assert.Equal(t, "u1", stripe.StringValue(params.ClientReferenceID))
	assert.Equal(t, map[string]string{"uid": "u1", "tier": "elite"}, params.Metadata)
	require.NotNil(t, params.SubscriptionData)
	assert.Equal(t, map[string]string{"uid": "u1", "tier": "elite"}, params.SubscriptionData.Metadata)
	assert.Equal(t, "idem-1", stripe.StringValue(params.IdempotencyKey))
}

func TestCreateSessionValidation(t *testing.T) {
	tests := []struct {
		name string
		req  CheckoutRequest
		want error
	}{
		{name: "missing email", req: CheckoutRequest{UserID: "u1", Tier: "pro"}, want: ErrInvalidCheckout},
		{name: "invalid email", req: CheckoutRequest{UserID: "u1", Email: "nope", Tier: "pro"}, want: ErrInvalidCheckout},
		{name: "missing user", req: CheckoutRequest{Email: "a@b.co", Tier: "pro"}, want: ErrInvalidCheckout},
		{name: "missing tier", req: CheckoutRequest{UserID: "u1", Email: "a@b.co"}, want: ErrInvalidCheckout},
		{name: "unknown tier", req: CheckoutRequest{UserID: "u1", Email: "a@b.co", Tier: "platinum"}, want: ErrInvalidTier},
		{name: "user id with path separator", req: CheckoutRequest{UserID: "a/b", Email: "a@b.co", Tier: "pro"}, want: ErrInvalidCheckout},
		{name: "dot-dot user id", req: CheckoutRequest{UserID: "..", Email: "a@b.co", Tier: "pro"}, want: ErrInvalidCheckout},
		{name: "reserved user id", req: CheckoutRequest{UserID: "__name__", Email: "a@b.co", Tier: "pro"}, want: ErrInvalidCheckout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creator := &fakeSessionCreator{result: &stripe.CheckoutSession{ID: "cs_1"}}
			_, err := newTestMinter(creator).CreateSession(context.Background(), tt.req)

			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, creator.calls, "invalid requests never reach the provider")
		})
	}
}

func TestCreateSessionProviderFailure(t *testing.T) {
	creator := &fakeSessionCreator{err: errors.New("api down")}

	_, err := newTestMinter(creator).CreateSession(context.Background(), CheckoutRequest{UserID: "u1", Email: "a@b.co", Tier: "pro"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.False(t, IsClientError(err))
}

func TestCreateSessionAlwaysCreatesNew(t *testing.T) {
	creator := &fakeSessionCreator{result: &stripe.CheckoutSession{ID: "cs_1"}}
	m := newTestMinter(creator)
	req := CheckoutRequest{UserID: "u1", Email: "a@b.co", Tier: "pro"}

	_, err := m.CreateSession(context.Background(), req)
	require.NoError(t, err)
	_, err = m.CreateSession(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, creator.calls, 2)
	assert.NotEqual(t, stripe.StringValue(creator.calls[0].IdempotencyKey), stripe.StringValue(creator.calls[1].IdempotencyKey))
}

func TestValidUserID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{id: "u1", want: true},
		{id: "firebase-UID_0a.b", want: true},
		{id: "__x", want: true},
		{id: "", want: false},
		{id: "a/b", want: false},
		{id: "x/y/z", want: false},
		{id: ".", want: false},
		{id: "..", want: false},
		{id: "__name__", want: false},
		{id: " u1", want: false},
		{id: strings.Repeat("a", MaxUserIDLength+1), want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidUserID(tt.id), "ValidUserID(%q)", tt.id)
	}
}
