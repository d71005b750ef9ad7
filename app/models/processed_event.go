package models

import "time"

// Processing outcomes stored on ProcessedEvent.Outcome besides the
// reconciler's own result strings.
const (
	ProcessedEventOutcomeProcessing = "processing"
)

// ProcessedEvent records that a provider event id has been admitted for
// reconciliation. Rows past ExpiresAt may be taken over or purged.
type ProcessedEvent struct {
	EventID   string    `gorm:"type:varchar(191);primaryKey" json:"event_id" firestore:"eventId"`
	Outcome   string    `gorm:"type:varchar(64);not null;default:'processing'" json:"outcome" firestore:"outcome"`
	ExpiresAt time.Time `gorm:"type:timestamp;not null;index" json:"expires_at" firestore:"expiresAt"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at" firestore:"updatedAt"`
}
