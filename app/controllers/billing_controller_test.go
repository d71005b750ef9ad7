package controllers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/tiergate/internal/pkg/billing"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

const testWebhookSecret = "whsec_controller_test"

type stubSessions struct {
	err error
}

func (s stubSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1"}, nil
}

type billingFixture struct {
	app   *fiber.App
	store *billing.MemoryEntitlementStore
}

func newBillingFixture(t *testing.T, sessions billing.SessionCreator) billingFixture {
	t.Helper()
	store := billing.NewMemoryEntitlementStore()
	guard, err := billing.NewMemoryGuard(0, time.Hour)
	require.NoError(t, err)

	webhooks := billing.NewWebhookService(billing.NewVerifier(testWebhookSecret, 5*time.Minute), guard, billing.NewReconciler(store))
	minter := billing.NewSessionMinter(sessions, billing.CheckoutConfig{
		Prices: billing.PriceTable{
			entitlements.TierBasic: "price_basic",
			entitlements.TierPro:   "price_pro",
			entitlements.TierElite: "price_elite",
		},
		SuccessURL: "https://app.example.com/success",
		CancelURL:  "https://app.example.com/cancel",
	})
	bc := NewBillingController(webhooks, minter, billing.NewEntitlementService(store), time.Second)

	app := fiber.New()
	app.Post("/webhook", bc.HandleWebhook)
	app.Post("/create-checkout-session", bc.HandleCreateCheckoutSession)
	app.Get("/ping", bc.HandlePing)
	app.Get("/admin/entitlements/:userId", bc.HandleGetEntitlement)
	app.Put("/admin/entitlements/:userId", bc.HandleOverrideEntitlement)
	return billingFixture{app: app, store: store}
}

func signedWebhookRequest(t *testing.T, secret string, payload []byte) *http.Request {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.", ts)
	_, _ = mac.Write(payload)

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return req
}

func checkoutCompletedPayload(t *testing.T, eventID, uid, tier string, created int64) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":      eventID,
		"object":  "event",
		"type":    "checkout.session.completed",
		"created": created,
		"data": map[string]any{"object": map[string]any{
			"object":   "checkout.session",
			"customer": "cus_" + uid,
			"metadata": map[string]string{"uid": uid, "tier": tier},
		}},
	})
	require.NoError(t, err)
	return raw
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func TestHandleWebhookGrantsEntitlement(t *testing.T) {
	f := newBillingFixture(t, stubSessions{})
	payload := checkoutCompletedPayload(t, "evt_1", "u1", "pro", 100)

	resp, err := f.app.Test(signedWebhookRequest(t, testWebhookSecret, payload))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, "processed", body["status"])

	resp, err = f.app.Test(httptest.NewRequest("GET", "/admin/entitlements/u1", nil))
	require.NoError(t, err)
	rec := decodeBody(t, resp)
	assert.Equal(t, "pro", rec["tier"])
	assert.Equal(t, "active", rec["subscription_status"])
	assert.Equal(t, float64(100), rec["last_applied_event_timestamp"])
}

func TestHandleWebhookRedelivery(t *testing.T) {
	f := newBillingFixture(t, stubSessions{})
	payload := checkoutCompletedPayload(t, "evt_1", "u1", "pro", 100)

	for i := 0; i < 2; i++ {
		resp, err := f.app.Test(signedWebhookRequest(t, testWebhookSecret, payload))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, 1, f.store.Writes())
}

func TestHandleWebhookForged(t *testing.T) {
	f := newBillingFixture(t, stubSessions{})
	payload := checkoutCompletedPayload(t, "evt_1", "u1", "elite", 100)

	resp, err := f.app.Test(signedWebhookRequest(t, "whsec_forged", payload))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, f.store.Writes())

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(payload))
	resp, err = f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "missing signature header")
}

func TestHandleCreateCheckoutSession(t *testing.T) {
	f := newBillingFixture(t, stubSessions{})

	req := httptest.NewRequest("POST", "/create-checkout-session", bytes.NewBufferString(`{"email":"a@b.co","tier":"pro","userId":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "cs_test_1", body["sessionId"])
	assert.Equal(t, "https://checkout.example/cs_test_1", body["url"])
}

func TestHandleCreateCheckoutSessionLegacyUID(t *testing.T) {
	f := newBillingFixture(t, stubSessions{})

	req := httptest.NewRequest("POST", "/create-checkout-session", bytes.NewBufferString(`{"email":"a@b.co","tier":"basic","uid":"u2"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestHandleCreateCheckoutSessionErrors(t *testing.T) {
	tests := []struct {
		name     string
		sessions billing.SessionCreator
		body     string
		status   int
	}{
		{name: "bad json", sessions: stubSessions{}, body: `{`, status: fiber.StatusBadRequest},
		{name: "missing email", sessions: stubSessions{}, body: `{"tier":"pro","userId":"u1"}`, status: fiber.StatusBadRequest},
		{name: "unknown tier", sessions: stubSessions{}, body: `{"email":"a@b.co","tier":"gold","userId":"u1"}`, status: fiber.StatusBadRequest},
		{name: "user id with path separator", sessions: stubSessions{}, body: `{"email":"a@b.co","tier":"pro","userId":"a/b"}`, status: fiber.StatusBadRequest},
		{name: "provider down", sessions: stubSessions{err: errors.New("stripe: 503")}, body: `{"email":"a@b.co","tier":"pro","userId":"u1"}`, status: fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBillingFixture(t, tt.sessions)
			req := httptest.NewRequest("POST", "/create-checkout-session", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := f.app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, decodeBody(t, resp)["error"])
		})
	}
}

func TestHandlePing(t *testing.T) {
	f := newBillingFixture(t, stubSessions{})

	resp, err := f.app.Test(httptest.NewRequest("GET", "/ping", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "pong", string(raw))
}

func TestHandleOverrideEntitlement(t *testing.T) {
	f := newBillingFixture(t, stubSessions{})

	resp, err := f.app.Test(httptest.NewRequest("GET", "/admin/entitlements/u9", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	req := httptest.NewRequest("PUT", "/admin/entitlements/u9", bytes.NewBufferString(`{"tier":"elite","subscription_status":"active"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	rec := decodeBody(t, resp)
	assert.Equal(t, "elite", rec["tier"])
	assert.Equal(t, "active", rec["subscription_status"])

	req = httptest.NewRequest("PUT", "/admin/entitlements/u9", bytes.NewBufferString(`{"subscription_status":"gold"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
