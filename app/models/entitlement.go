package models

import (
	"time"

	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// Entitlement is the per-user record of what tier a user has paid for and
// whether the provider still considers the subscription live.
type Entitlement struct {
	UserID                    string              `gorm:"type:varchar(128);primaryKey" json:"user_id" firestore:"userId"`
	Tier                      entitlements.Tier   `gorm:"type:varchar(16);not null" json:"tier" firestore:"tier"`
	SubscriptionStatus        entitlements.Status `gorm:"type:varchar(16);not null;default:'none';index" json:"subscription_status" firestore:"subscriptionStatus"`
	ProviderCustomerID        *string             `gorm:"type:varchar(191);default:null;index" json:"provider_customer_id,omitempty" firestore:"providerCustomerId"`
	LastAppliedEventTimestamp int64               `gorm:"not null;default:0" json:"last_applied_event_timestamp" firestore:"lastAppliedEventTimestamp"`
	CreatedAt                 time.Time           `gorm:"autoCreateTime" json:"created_at" firestore:"createdAt"`
	UpdatedAt                 time.Time           `gorm:"autoUpdateTime" json:"updated_at" firestore:"updatedAt"`
}

// Clone returns a deep copy so callers can hand records out of a store
// without sharing the customer id pointer.
func (e *Entitlement) Clone() *Entitlement {
	if e == nil {
		return nil
	}
	c := *e
	if e.ProviderCustomerID != nil {
		id := *e.ProviderCustomerID
		c.ProviderCustomerID = &id
	}
	return &c
}
