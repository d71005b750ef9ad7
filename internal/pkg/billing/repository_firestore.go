package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ManuelReschke/tiergate/app/models"
)

const defaultEntitlementCollection = "entitlements"

type firestoreEntitlementRepository struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreEntitlementStore stores one document per user in the
// "entitlements" collection, keyed by user id.
func NewFirestoreEntitlementStore(client *firestore.Client) EntitlementStore {
	return &firestoreEntitlementRepository{client: client, collection: defaultEntitlementCollection}
}

func (r *firestoreEntitlementRepository) doc(userID string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(strings.TrimSpace(userID))
}

func (r *firestoreEntitlementRepository) Get(ctx context.Context, userID string) (*models.Entitlement, error) {
	if !ValidUserID(strings.TrimSpace(userID)) {
		return nil, ErrNotFound
	}
	snap, err := r.doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var e models.Entitlement
	if err := snap.DataTo(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *firestoreEntitlementRepository) Update(ctx context.Context, userID string, fn UpdateFunc) (*models.Entitlement, error) {
	userID = strings.TrimSpace(userID)
	if !ValidUserID(userID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		out, err := r.updateOnce(ctx, userID, fn)
		// tx.Create lost a first-write race; the next attempt reads the winner
		if status.Code(err) == codes.AlreadyExists {
			continue
		}
		return out, err
	}
	return nil, fmt.Errorf("update entitlement %s: %w", userID, errCreateRace)
}

func (r *firestoreEntitlementRepository) updateOnce(ctx context.Context, userID string, fn UpdateFunc) (*models.Entitlement, error) {
	ref := r.doc(userID)

	var out *models.Entitlement
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		out = nil

		var current *models.Entitlement
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			current = &models.Entitlement{}
			if err := snap.DataTo(current); err != nil {
				return err
			}
		case status.Code(err) != codes.NotFound:
			return err
		}

		patch := fn(current.Clone())
		if patch.empty() {
			out = current
			return nil
		}

		now := time.Now().UTC()
		if current == nil {
			created := patch.newEntitlement(userID, now)
			out = created
			return tx.Create(ref, created)
		}

		patch.applyTo(current)
		current.UpdatedAt = now
		out = current
		return tx.Set(ref, patchFields(patch, now), firestore.MergeAll)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func patchFields(p *EntitlementPatch, now time.Time) map[string]interface{} {
	fields := map[string]interface{}{"updatedAt": now}
	if p.Tier != nil {
		fields["tier"] = string(*p.Tier)
	}
	if p.SubscriptionStatus != nil {
		fields["subscriptionStatus"] = string(*p.SubscriptionStatus)
	}
	if p.ProviderCustomerID != nil {
		fields["providerCustomerId"] = *p.ProviderCustomerID
	}
	if p.LastAppliedEventTimestamp != nil {
		fields["lastAppliedEventTimestamp"] = *p.LastAppliedEventTimestamp
	}
	return fields
}
