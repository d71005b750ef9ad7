package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/tiergate/app/models"
)

// maxCreateAttempts bounds retries after losing a concurrent first-insert race.
const maxCreateAttempts = 3

var errCreateRace = errors.New("entitlement created concurrently")

type gormEntitlementRepository struct {
	db *gorm.DB
}

// NewGormEntitlementStore creates an entitlement store backed by GORM.
func NewGormEntitlementStore(db *gorm.DB) EntitlementStore {
	return &gormEntitlementRepository{db: db}
}

func (r *gormEntitlementRepository) Get(ctx context.Context, userID string) (*models.Entitlement, error) {
	var e models.Entitlement
	err := r.db.WithContext(ctx).Where("user_id = ?", strings.TrimSpace(userID)).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *gormEntitlementRepository) Update(ctx context.Context, userID string, fn UpdateFunc) (*models.Entitlement, error) {
	userID = strings.TrimSpace(userID)
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		out, err := r.updateOnce(ctx, userID, fn)
		if errors.Is(err, errCreateRace) {
			continue
		}
		return out, err
	}
	return nil, fmt.Errorf("update entitlement %s: %w", userID, errCreateRace)
}

func (r *gormEntitlementRepository) updateOnce(ctx context.Context, userID string, fn UpdateFunc) (*models.Entitlement, error) {
	var out *models.Entitlement
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Entitlement
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&current).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			patch := fn(nil)
			if patch.empty() {
				return nil
			}
			created := patch.newEntitlement(userID, time.Now().UTC())
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(created)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errCreateRace
			}
			out = created
			return nil
		}

		patch := fn(current.Clone())
		if patch.empty() {
			out = &current
			return nil
		}
		now := time.Now().UTC()
		if err := tx.Model(&models.Entitlement{}).
			Where("user_id = ?", userID).
			Updates(patchColumns(patch, now)).Error; err != nil {
			return err
		}
		patch.applyTo(&current)
		current.UpdatedAt = now
		out = &current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func patchColumns(p *EntitlementPatch, now time.Time) map[string]interface{} {
	updates := map[string]interface{}{"updated_at": now}
	if p.Tier != nil {
		updates["tier"] = string(*p.Tier)
	}
	if p.SubscriptionStatus != nil {
		updates["subscription_status"] = string(*p.SubscriptionStatus)
	}
	if p.ProviderCustomerID != nil {
		updates["provider_customer_id"] = *p.ProviderCustomerID
	}
	if p.LastAppliedEventTimestamp != nil {
		updates["last_applied_event_timestamp"] = *p.LastAppliedEventTimestamp
	}
	return updates
}
