package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// eventObject is the subset of data.object shared by checkout sessions and
// subscriptions that reconciliation reads.
type eventObject struct {
	Customer json.RawMessage   `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// Normalize parses a verified provider payload into a PaymentEvent.
// Unknown event types are accepted as EventOther.
func Normalize(raw []byte) (*PaymentEvent, error) {
	var envelope stripe.Event
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	eventID := strings.TrimSpace(envelope.ID)
	if eventID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}
	if envelope.Created <= 0 {
		return nil, fmt.Errorf("%w: missing created timestamp", ErrMalformedEvent)
	}
	if envelope.Data == nil || len(envelope.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: missing data.object", ErrMalformedEvent)
	}

	var obj eventObject
	if err := json.Unmarshal(envelope.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: data.object: %v", ErrMalformedEvent, err)
	}
	customerID, err := customerIDFromRaw(obj.Customer)
	if err != nil {
		return nil, fmt.Errorf("%w: data.object.customer: %v", ErrMalformedEvent, err)
	}

	evt := &PaymentEvent{
		EventID:            eventID,
		Type:               eventTypeFromProvider(envelope.Type),
		ProviderType:       string(envelope.Type),
		UserID:             userIDFromMetadata(obj.Metadata),
		ProviderCustomerID: customerID,
		ProviderStatus:     strings.ToLower(strings.TrimSpace(obj.Status)),
		OccurredAt:         envelope.Created,
		RawPayload:         raw,
	}
	if tier, ok := entitlements.ParseTier(obj.Metadata[MetadataTier]); ok {
		evt.Tier = tier
	}
	return evt, nil
}

func eventTypeFromProvider(t stripe.EventType) EventType {
	switch t {
	case stripe.EventTypeCheckoutSessionCompleted:
		return EventCheckoutCompleted
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return EventSubscriptionUpdated
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return EventSubscriptionCanceled
	default:
		return EventOther
	}
}

// userIDFromMetadata only trusts the keys written by the session minter.
// Customer email is deliberately not consulted.
func userIDFromMetadata(md map[string]string) string {
	if uid := strings.TrimSpace(md[MetadataUserID]); uid != "" {
		return uid
	}
	return strings.TrimSpace(md[MetadataUserIDFallback])
}

// customerIDFromRaw accepts both the collapsed ("cus_123") and the expanded
// ({"id":"cus_123",...}) customer representation.
func customerIDFromRaw(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", err
		}
		return strings.TrimSpace(id), nil
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &expanded); err != nil {
		return "", err
	}
	return strings.TrimSpace(expanded.ID), nil
}
