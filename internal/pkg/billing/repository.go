package billing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// EntitlementPatch lists the fields a write changes. Nil fields are left as
// stored, so every write is a merge rather than a document replace.
type EntitlementPatch struct {
	Tier                      *entitlements.Tier
	SubscriptionStatus        *entitlements.Status
	ProviderCustomerID        *string
	LastAppliedEventTimestamp *int64
}

func (p *EntitlementPatch) empty() bool {
	return p == nil ||
		(p.Tier == nil && p.SubscriptionStatus == nil && p.ProviderCustomerID == nil && p.LastAppliedEventTimestamp == nil)
}

func (p *EntitlementPatch) applyTo(e *models.Entitlement) {
	if p.Tier != nil {
		e.Tier = *p.Tier
	}
	if p.SubscriptionStatus != nil {
		e.SubscriptionStatus = *p.SubscriptionStatus
	}
	if p.ProviderCustomerID != nil {
		id := *p.ProviderCustomerID
		e.ProviderCustomerID = &id
	}
	if p.LastAppliedEventTimestamp != nil {
		e.LastAppliedEventTimestamp = *p.LastAppliedEventTimestamp
	}
}

// newEntitlement builds the record a patch creates for a user without one.
func (p *EntitlementPatch) newEntitlement(userID string, now time.Time) *models.Entitlement {
	e := &models.Entitlement{
		UserID:             userID,
		SubscriptionStatus: entitlements.StatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	p.applyTo(e)
	return e
}

// UpdateFunc decides the patch for the current record (nil when absent).
// Returning nil means "write nothing". Stores may call it more than once
// when a transaction is retried.
type UpdateFunc func(current *models.Entitlement) *EntitlementPatch

// EntitlementStore persists entitlements keyed by user id.
type EntitlementStore interface {
	// Get returns ErrNotFound when the user has no record.
	Get(ctx context.Context, userID string) (*models.Entitlement, error)
	// Update runs fn against the current record and merges its patch in one
	// read-modify-write that no concurrent Update for the same user can
	// interleave with. It returns the record as stored afterwards (nil if it
	// still does not exist).
	Update(ctx context.Context, userID string, fn UpdateFunc) (*models.Entitlement, error)
}

// MemoryEntitlementStore is an in-process EntitlementStore for tests and
// single-instance development runs.
type MemoryEntitlementStore struct {
	mu      sync.Mutex
	records map[string]*models.Entitlement
	writes  int
	now     func() time.Time
}

func NewMemoryEntitlementStore() *MemoryEntitlementStore {
	return &MemoryEntitlementStore{
		records: make(map[string]*models.Entitlement),
		now:     time.Now,
	}
}

func (s *MemoryEntitlementStore) Get(ctx context.Context, userID string) (*models.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[strings.TrimSpace(userID)]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryEntitlementStore) Update(ctx context.Context, userID string, fn UpdateFunc) (*models.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.records[userID]
	patch := fn(current.Clone())
	if patch.empty() {
		return current.Clone(), nil
	}

	now := s.now().UTC()
	if current == nil {
		current = patch.newEntitlement(userID, now)
		s.records[userID] = current
	} else {
		patch.applyTo(current)
		current.UpdatedAt = now
	}
	s.writes++
	return current.Clone(), nil
}

// Writes counts persisted updates.
func (s *MemoryEntitlementStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
