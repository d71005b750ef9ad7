package billing

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
)

// SessionCreator is the slice of the Stripe checkout session client the
// minter needs. *session.Client satisfies it.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeSessionCreator returns a checkout session client bound to the
// given secret key instead of the package-global stripe.Key.
func NewStripeSessionCreator(secretKey string) SessionCreator {
	return &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
}

// CheckoutRequest is the client's "start checkout" payload.
type CheckoutRequest struct {
	UserID string `json:"userId" validate:"required,max=128,userid"`
	Email  string `json:"email" validate:"required,email,max=200"`
	Tier   string `json:"tier" validate:"required"`
}

// SessionRef identifies a created provider checkout session.
type SessionRef struct {
	SessionID string         `json:"sessionId"`
	URL       string         `json:"url,omitempty"`
	Intent    CheckoutIntent `json:"-"`
}

type CheckoutConfig struct {
	Prices     PriceTable
	SuccessURL string
	CancelURL  string
}

// SessionMinter creates provider checkout sessions that carry the user id
// and tier as metadata. Every call creates a new session.
type SessionMinter struct {
	sessions   SessionCreator
	prices     PriceTable
	successURL string
	cancelURL  string
	validate   *validator.Validate
	newKey     func() string
	observer   Observer
}

func NewSessionMinter(sessions SessionCreator, cfg CheckoutConfig) *SessionMinter {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("userid", func(fl validator.FieldLevel) bool {
		return ValidUserID(fl.Field().String())
	})
	return &SessionMinter{
		sessions:   sessions,
		prices:     cfg.Prices,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		validate:   v,
		newKey:     uuid.NewString,
		observer:   nopObserver{},
	}
}

// WithObserver attaches a metrics observer.
func (m *SessionMinter) WithObserver(o Observer) *SessionMinter {
	if o != nil {
		m.observer = o
	}
	return m
}

// CreateSession validates the request, maps the tier to its price and creates
// the session. Validation failures wrap ErrInvalidCheckout or ErrInvalidTier;
// provider failures wrap ErrProviderUnavailable.
func (m *SessionMinter) CreateSession(ctx context.Context, req CheckoutRequest) (*SessionRef, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Email = strings.TrimSpace(req.Email)
	req.Tier = strings.TrimSpace(req.Tier)

	if err := m.validate.Struct(req); err != nil {
		m.observer.ObserveCheckout("invalid_request")
		return nil, fmt.Errorf("%w: %s", ErrInvalidCheckout, describeValidation(err))
	}
	tier, priceID, ok := m.prices.Lookup(req.Tier)
	if !ok {
		m.observer.ObserveCheckout("invalid_tier")
		return nil, fmt.Errorf("%w: %s", ErrInvalidTier, req.Tier)
	}

	metadata := map[string]string{
		MetadataUserID: req.UserID,
		MetadataTier:   string(tier),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		CustomerEmail:     stripe.String(req.Email),
		ClientReferenceID: stripe.String(req.UserID),
		SuccessURL:        stripe.String(m.successURL),
		CancelURL:         stripe.String(m.cancelURL),
		Metadata:          metadata,
		// Subscription events carry the subscription's metadata, not the session's.
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				MetadataUserID: req.UserID,
				MetadataTier:   string(tier),
			},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(m.newKey())

	sess, err := m.sessions.New(params)
	if err != nil {
		m.observer.ObserveCheckout("provider_error")
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		m.observer.ObserveCheckout("provider_error")
		return nil, fmt.Errorf("%w: empty checkout session", ErrProviderUnavailable)
	}

	m.observer.ObserveCheckout("created")
	return &SessionRef{
		SessionID: sess.ID,
		URL:       sess.URL,
		Intent:    CheckoutIntent{UserID: req.UserID, Tier: tier, SessionID: sess.ID},
	}, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "email":
			parts = append(parts, fe.Field()+" must be a valid email address")
		case "userid":
			parts = append(parts, fe.Field()+" must not contain '/' or be a reserved id")
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}
