package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// ResultStatus tells the caller whether to acknowledge an event.
type ResultStatus string

const (
	ResultOk      ResultStatus = "ok"
	ResultSkipped ResultStatus = "skipped"
	ResultFailed  ResultStatus = "failed"
)

// Reason qualifies Skipped and Failed results.
type Reason string

const (
	ReasonMissingIdentity Reason = "missing_identity"
	ReasonInvalidIdentity Reason = "invalid_identity"
	ReasonUnknownUser     Reason = "unknown_user"
	ReasonIgnoredType     Reason = "ignored_type"
	ReasonStale           Reason = "stale"
	ReasonMissingTier     Reason = "missing_tier"
	ReasonTransient       Reason = "transient"
)

// Result is the reconciler's verdict. Skips are business outcomes, not errors.
type Result struct {
	Status      ResultStatus
	Reason      Reason
	Entitlement *models.Entitlement
	Err         error
}

func (r Result) String() string {
	if r.Reason == "" {
		return string(r.Status)
	}
	return string(r.Status) + ":" + string(r.Reason)
}

func skipped(reason Reason, e *models.Entitlement) Result {
	return Result{Status: ResultSkipped, Reason: reason, Entitlement: e}
}

// Reconciler applies normalized events to entitlement records.
type Reconciler struct {
	store EntitlementStore
}

func NewReconciler(store EntitlementStore) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile never guesses a user: events without identity are skipped before
// any store access. Ordering is enforced per record by comparing the event
// timestamp with LastAppliedEventTimestamp inside the store's update.
func (r *Reconciler) Reconcile(ctx context.Context, evt *PaymentEvent) Result {
	if evt == nil || strings.TrimSpace(evt.UserID) == "" {
		return skipped(ReasonMissingIdentity, nil)
	}
	if evt.Type == EventOther {
		return skipped(ReasonIgnoredType, nil)
	}
	// redelivery cannot fix a malformed id, so it is acknowledged
	if !ValidUserID(evt.UserID) {
		return skipped(ReasonInvalidIdentity, nil)
	}

	var reason Reason
	rec, err := r.store.Update(ctx, evt.UserID, func(current *models.Entitlement) *EntitlementPatch {
		patch, why := transition(current, evt)
		reason = why
		return patch
	})
	if errors.Is(err, ErrInvalidUserID) {
		return skipped(ReasonInvalidIdentity, nil)
	}
	if err != nil {
		return Result{Status: ResultFailed, Reason: ReasonTransient, Err: err}
	}
	if reason != "" {
		return skipped(reason, rec)
	}
	return Result{Status: ResultOk, Entitlement: rec}
}

// transition is the per-type state machine. It returns either a patch or the
// reason the event does not change the record.
func transition(current *models.Entitlement, evt *PaymentEvent) (*EntitlementPatch, Reason) {
	if current != nil && current.LastAppliedEventTimestamp > evt.OccurredAt {
		return nil, ReasonStale
	}

	occurredAt := evt.OccurredAt
	patch := &EntitlementPatch{LastAppliedEventTimestamp: &occurredAt}
	if evt.ProviderCustomerID != "" {
		customerID := evt.ProviderCustomerID
		patch.ProviderCustomerID = &customerID
	}

	var next entitlements.Status
	switch evt.Type {
	case EventCheckoutCompleted:
		if !evt.Tier.Valid() {
			return nil, ReasonMissingTier
		}
		tier := evt.Tier
		patch.Tier = &tier
		next = entitlements.StatusActive
	case EventSubscriptionUpdated:
		if current == nil {
			return nil, ReasonUnknownUser
		}
		next = statusFromProvider(evt.ProviderStatus)
	case EventSubscriptionCanceled:
		if current == nil {
			return nil, ReasonUnknownUser
		}
		// tier is kept for display and win-back
		next = entitlements.StatusCanceled
	case EventOther:
		return nil, ReasonIgnoredType
	default:
		return nil, ReasonIgnoredType
	}
	patch.SubscriptionStatus = &next
	return patch, ""
}
