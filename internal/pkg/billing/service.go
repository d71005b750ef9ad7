package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// OutcomeKind is the externally visible result of handling one delivery.
type OutcomeKind string

const (
	OutcomeRejected  OutcomeKind = "rejected"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeProcessed OutcomeKind = "processed"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome describes how a webhook delivery was handled.
type Outcome struct {
	Kind        OutcomeKind
	Reason      string
	EventID     string
	EventType   EventType
	Entitlement *models.Entitlement
	Err         error
}

// HTTPStatus maps the outcome onto the status the provider sees. Only
// transient failures ask for a redelivery.
func (o Outcome) HTTPStatus() int {
	switch o.Kind {
	case OutcomeRejected:
		return http.StatusBadRequest
	case OutcomeFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// WebhookService runs a raw delivery through verification, normalization,
// the idempotency guard and the reconciler.
type WebhookService struct {
	verifier   *Verifier
	guard      Guard
	reconciler *Reconciler
	observer   Observer
	now        func() time.Time
}

func NewWebhookService(verifier *Verifier, guard Guard, reconciler *Reconciler) *WebhookService {
	return &WebhookService{
		verifier:   verifier,
		guard:      guard,
		reconciler: reconciler,
		observer:   nopObserver{},
		now:        time.Now,
	}
}

// WithObserver attaches a metrics observer.
func (s *WebhookService) WithObserver(o Observer) *WebhookService {
	if o != nil {
		s.observer = o
	}
	return s
}

// Handle processes one delivery. payload must be the unmodified request body.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, signatureHeader string) (out Outcome) {
	started := s.now()
	defer func() {
		s.observer.ObserveWebhook(string(out.Kind), out.Reason, s.now().Sub(started).Seconds())
	}()

	if err := s.verifier.Verify(payload, signatureHeader); err != nil {
		log.Warnf("[Webhook] Rejected delivery: %v", err)
		return Outcome{Kind: OutcomeRejected, Reason: "signature", Err: err}
	}

	evt, err := Normalize(payload)
	if err != nil {
		log.Warnf("[Webhook] Rejected verified payload: %v", err)
		return Outcome{Kind: OutcomeRejected, Reason: "malformed", Err: err}
	}
	out = Outcome{EventID: evt.EventID, EventType: evt.Type}

	admission, err := s.guard.Admit(ctx, evt.EventID)
	if err != nil {
		log.Errorf("[Webhook] Idempotency check failed for %s: %v", evt.EventID, err)
		out.Kind, out.Reason, out.Err = OutcomeFailed, string(ReasonTransient), err
		return out
	}
	if admission == Duplicate {
		log.Infof("[Webhook] Event %s already processed", evt.EventID)
		out.Kind = OutcomeDuplicate
		return out
	}

	// a panic below must not leave the claim blocking the provider's retry
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("[Webhook] Event %s panicked, releasing claim: %v", evt.EventID, p)
			if err := s.guard.Release(context.WithoutCancel(ctx), evt.EventID); err != nil {
				log.Errorf("[Webhook] Failed to release event %s: %v", evt.EventID, err)
			}
			panic(p)
		}
	}()

	res := s.reconciler.Reconcile(ctx, evt)
	out.Entitlement = res.Entitlement
	out.Reason = string(res.Reason)

	// bookkeeping must survive a request deadline that already fired
	bookCtx := context.WithoutCancel(ctx)

	switch res.Status {
	case ResultFailed:
		out.Kind, out.Err = OutcomeFailed, res.Err
		log.Errorf("[Webhook] Event %s (%s) failed for user %s: %v", evt.EventID, evt.ProviderType, evt.UserID, res.Err)
		if err := s.guard.Release(bookCtx, evt.EventID); err != nil {
			log.Errorf("[Webhook] Failed to release event %s: %v", evt.EventID, err)
		}
		return out
	case ResultSkipped:
		out.Kind = OutcomeSkipped
		log.Infof("[Webhook] Event %s (%s) skipped: %s", evt.EventID, evt.ProviderType, res.Reason)
	default:
		out.Kind = OutcomeProcessed
		log.Infof("[Webhook] Event %s (%s) applied to user %s", evt.EventID, evt.ProviderType, evt.UserID)
	}

	if err := s.guard.Complete(bookCtx, evt.EventID, res.String()); err != nil {
		log.Warnf("[Webhook] Failed to record outcome for event %s: %v", evt.EventID, err)
	}
	return out
}

// EntitlementService is the read and manual-override side of the store.
type EntitlementService struct {
	store EntitlementStore
}

func NewEntitlementService(store EntitlementStore) *EntitlementService {
	return &EntitlementService{store: store}
}

func (s *EntitlementService) Get(ctx context.Context, userID string) (*models.Entitlement, error) {
	userID = strings.TrimSpace(userID)
	if !ValidUserID(userID) {
		return nil, ErrNotFound
	}
	return s.store.Get(ctx, userID)
}

// Override sets tier and/or status directly, for support staff. It leaves
// LastAppliedEventTimestamp alone so later provider events still apply.
// Creating a record requires a tier.
func (s *EntitlementService) Override(ctx context.Context, userID string, tier *entitlements.Tier, status *entitlements.Status) (*models.Entitlement, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidOverride)
	}
	if !ValidUserID(userID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	if tier == nil && status == nil {
		return nil, fmt.Errorf("%w: nothing to change", ErrInvalidOverride)
	}

	patch := &EntitlementPatch{}
	if tier != nil {
		t, ok := entitlements.ParseTier(string(*tier))
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTier, *tier)
		}
		patch.Tier = &t
	}
	if status != nil {
		st, ok := entitlements.ParseStatus(string(*status))
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidOverride, *status)
		}
		patch.SubscriptionStatus = &st
	}

	var missingTier bool
	rec, err := s.store.Update(ctx, userID, func(current *models.Entitlement) *EntitlementPatch {
		missingTier = current == nil && patch.Tier == nil
		if missingTier {
			return nil
		}
		return patch
	})
	if err != nil {
		return nil, err
	}
	if missingTier {
		return nil, fmt.Errorf("%w: a new entitlement needs a tier", ErrInvalidTier)
	}
	log.Infof("[Entitlements] Manual override for user %s: tier=%s status=%s", userID, rec.Tier, rec.SubscriptionStatus)
	return rec, nil
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCheckout) ||
		errors.Is(err, ErrInvalidTier) ||
		errors.Is(err, ErrInvalidOverride) ||
		errors.Is(err, ErrInvalidUserID)
}
