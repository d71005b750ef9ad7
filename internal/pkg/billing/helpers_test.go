package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

const testWebhookSecret = "whsec_test_secret"

func signPayload(t *testing.T, secret string, payload []byte, at time.Time) string {
	t.Helper()
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.", ts)
	_, _ = mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type testEvent struct {
	ID       string
	Type     string
	Created  int64
	Customer any
	Status   string
	Metadata map[string]string
}

func (e testEvent) payload(t *testing.T) []byte {
	t.Helper()
	object := map[string]any{
		"object":   "subscription",
		"metadata": e.Metadata,
	}
	if e.Customer != nil {
		object["customer"] = e.Customer
	}
	if e.Status != "" {
		object["status"] = e.Status
	}
	if e.Type == "checkout.session.completed" {
		object["object"] = "checkout.session"
	}
	raw, err := json.Marshal(map[string]any{
		"id":          e.ID,
		"object":      "event",
		"type":        e.Type,
		"created":     e.Created,
		"api_version": "2025-03-31.basil",
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal test event: %v", err)
	}
	return raw
}

func checkoutEvent(id, uid, tier string, created int64) testEvent {
	return testEvent{
		ID:       id,
		Type:     "checkout.session.completed",
		Created:  created,
		Customer: "cus_" + uid,
		Metadata: map[string]string{"uid": uid, "tier": tier},
	}
}

func subscriptionEvent(id, typ, uid, status string, created int64) testEvent {
	return testEvent{
		ID:       id,
		Type:     typ,
		Created:  created,
		Customer: "cus_" + uid,
		Status:   status,
		Metadata: map[string]string{"uid": uid},
	}
}
