package billing

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/tiergate/app/models"
)

// GormGuard keeps processing records in the processed_events table.
type GormGuard struct {
	db    *gorm.DB
	ttl   time.Duration
	lease time.Duration
	now   func() time.Time
}

func NewGormGuard(db *gorm.DB, ttl time.Duration) *GormGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &GormGuard{db: db, ttl: ttl, lease: DefaultProcessingLease, now: time.Now}
}

// WithLease sets how long an unfinished admission blocks redeliveries.
func (g *GormGuard) WithLease(d time.Duration) *GormGuard {
	if d > 0 {
		g.lease = d
	}
	return g
}

// Admit inserts the event id and relies on the primary key to reject
// concurrent duplicates. An expired row, including an abandoned processing
// lease, is taken over by one conditional UPDATE decided by the database.
func (g *GormGuard) Admit(ctx context.Context, eventID string) (Admission, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		return 0, errEmptyEventID
	}
	now := g.now().UTC()

	rec := &models.ProcessedEvent{
		EventID:   id,
		Outcome:   processingOutcome,
		ExpiresAt: now.Add(g.lease),
	}
	tx := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if tx.Error != nil {
		return 0, tx.Error
	}
	if tx.RowsAffected > 0 {
		return Admitted, nil
	}

	tx = g.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("event_id = ? AND expires_at <= ?", id, now).
		Updates(map[string]interface{}{
			"outcome":    processingOutcome,
			"expires_at": now.Add(g.lease),
			"updated_at": now,
		})
	if tx.Error != nil {
		return 0, tx.Error
	}
	if tx.RowsAffected > 0 {
		return Admitted, nil
	}
	return Duplicate, nil
}

func (g *GormGuard) Complete(ctx context.Context, eventID, outcome string) error {
	now := g.now().UTC()
	return g.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Updates(map[string]interface{}{
			"outcome":    outcome,
			"expires_at": now.Add(g.ttl),
			"updated_at": now,
		}).Error
}

func (g *GormGuard) Release(ctx context.Context, eventID string) error {
	return g.db.WithContext(ctx).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Delete(&models.ProcessedEvent{}).Error
}

// PurgeExpired deletes processing records whose retention window ended.
func (g *GormGuard) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tx := g.db.WithContext(ctx).
		Where("expires_at <= ?", before.UTC()).
		Delete(&models.ProcessedEvent{})
	return tx.RowsAffected, tx.Error
}
