package activity

import (
	"time"

	"github.com/google/uuid"

	"pyrus-portal/portal-backend/pkg/workflows"
)

// Activity is one completed transition as shown in the feed. The ID is the
// ID of the event it was recorded from, so redelivered events collapse.
type Activity struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	ContentID   uuid.UUID        `gorm:"type:uuid;not null;index" json:"content_id"`
	ClientID    uuid.UUID        `gorm:"type:uuid;not null;index" json:"client_id"`
	Title       string           `gorm:"not null" json:"title"`
	FromStatus  workflows.Status `gorm:"type:varchar(32);not null" json:"from_status"`
	ToStatus    workflows.Status `gorm:"type:varchar(32);not null" json:"to_status"`
	ReviewRound int              `gorm:"not null" json:"review_round"`
	ActorID     *string          `gorm:"type:varchar(128)" json:"actor_id,omitempty"`
	ActorName   *string          `gorm:"type:varchar(255)" json:"actor_name,omitempty"`
	ActorRole   workflows.Role   `gorm:"type:varchar(16);not null" json:"actor_role"`
	Note        *string          `gorm:"type:text" json:"note,omitempty"`
	OccurredAt  time.Time        `gorm:"not null;index" json:"occurred_at"`
	CreatedAt   time.Time        `json:"created_at"`
}

func (Activity) TableName() string {
	return "activities"
}

// Summary is the one-line description used by the feed.
func (a *Activity) Summary() string {
	who := "System"
	if a.ActorName != nil && *a.ActorName != "" {
		who = *a.ActorName
	}
	return who + " moved \"" + a.Title + "\" to " + a.ToStatus.String()
}

// ListFilter narrows the feed. Limit is capped by the service.
type ListFilter struct {
	ClientID  *uuid.UUID
	ContentID *uuid.UUID
	Before    *time.Time
	Limit     int
}
