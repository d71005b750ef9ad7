package billing

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

var (
	// ErrSignatureInvalid rejects a webhook whose signature does not match the raw body.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrMalformedEvent rejects a verified payload that is not a usable event envelope.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrInvalidTier is a client error: the tier has no configured price.
	ErrInvalidTier = errors.New("invalid tier")
	// ErrInvalidCheckout is a client error: required checkout fields are missing or invalid.
	ErrInvalidCheckout = errors.New("invalid checkout request")
	// ErrInvalidOverride is a client error on the manual override path.
	ErrInvalidOverride = errors.New("invalid entitlement override")
	// ErrProviderUnavailable wraps failures talking to the payment provider.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrNotFound is returned by stores when no entitlement exists for a user.
	ErrNotFound = errors.New("entitlement not found")
	// ErrInvalidUserID is returned for user ids that cannot key a record.
	ErrInvalidUserID = errors.New("invalid user id")
)

// MaxUserIDLength matches the entitlements.user_id column.
const MaxUserIDLength = 128

// ValidUserID reports whether id can key an entitlement in every store.
// Document stores treat "/" as a path separator and reserve ".", ".." and
// ids of the form __name__.
func ValidUserID(id string) bool {
	if id == "" || len(id) > MaxUserIDLength || !utf8.ValidString(id) {
		return false
	}
	if strings.TrimSpace(id) != id || strings.Contains(id, "/") {
		return false
	}
	if id == "." || id == ".." {
		return false
	}
	if len(id) >= 4 && strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__") {
		return false
	}
	return true
}

// Metadata keys written on checkout sessions and echoed back in events.
const (
	MetadataUserID         = "uid"
	MetadataUserIDFallback = "userId"
	MetadataTier           = "tier"
)

// EventType is the closed set of event kinds the reconciler understands.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout_completed"
	EventSubscriptionUpdated  EventType = "subscription_updated"
	EventSubscriptionCanceled EventType = "subscription_canceled"
	EventOther                EventType = "other"
)

// PaymentEvent is a verified provider event reduced to the fields
// reconciliation needs. Optional fields are empty when absent.
type PaymentEvent struct {
	EventID            string
	Type               EventType
	ProviderType       string
	UserID             string
	Tier               entitlements.Tier
	ProviderCustomerID string
	ProviderStatus     string
	OccurredAt         int64
	RawPayload         []byte
}

// CheckoutIntent is the user/tier pair embedded in a checkout session.
type CheckoutIntent struct {
	UserID    string
	Tier      entitlements.Tier
	SessionID string
}

// Observer receives pipeline outcomes; metrics.Recorder implements it.
type Observer interface {
	ObserveWebhook(outcome, reason string, seconds float64)
	ObserveCheckout(result string)
}

type nopObserver struct{}

func (nopObserver) ObserveWebhook(string, string, float64) {}
func (nopObserver) ObserveCheckout(string)                 {}
