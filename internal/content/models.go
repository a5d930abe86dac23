package content

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pyrus-portal/portal-backend/pkg/workflows"
)

type ContentType string

const (
	TypeBlogPost   ContentType = "blog_post"
	TypeAdCopy     ContentType = "ad_copy"
	TypeSocialPost ContentType = "social_post"
)

func (t ContentType) Valid() bool {
	switch t {
	case TypeBlogPost, TypeAdCopy, TypeSocialPost:
		return true
	}
	return false
}

// ErrHistoryImmutable is returned when something tries to rewrite the audit trail.
var ErrHistoryImmutable = errors.New("status history is append-only")

// ContentItem is a piece of marketing content moving through client review.
// Status, ReviewRound, StatusChangedAt and Version only change through
// workflow transitions.
type ContentItem struct {
	ID               uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID         uuid.UUID            `gorm:"type:uuid;not null;index" json:"client_id"`
	Title            string               `gorm:"not null" json:"title"`
	Body             string               `gorm:"type:text" json:"body"`
	ContentType      ContentType          `gorm:"type:varchar(32);not null;index" json:"content_type"`
	Channel          string               `gorm:"type:varchar(64)" json:"channel,omitempty"`
	Metadata         datatypes.JSON       `json:"metadata,omitempty"`
	Status           workflows.Status     `gorm:"type:varchar(32);not null;index" json:"status"`
	ApprovalRequired bool                 `gorm:"not null" json:"approval_required"`
	ReviewRound      int                  `gorm:"not null" json:"review_round"`
	Version          int                  `gorm:"not null" json:"version"`
	StatusChangedAt  time.Time            `gorm:"not null" json:"status_changed_at"`
	PublishAt        *time.Time           `gorm:"index" json:"publish_at,omitempty"`
	CreatedByID      string               `gorm:"type:varchar(128)" json:"created_by_id"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	StatusHistory    []StatusHistoryEntry `gorm:"foreignKey:ContentID" json:"status_history"`
}

func (ContentItem) TableName() string {
	return "content_items"
}

func (c *ContentItem) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// HistoryStatuses lists the statuses entered, oldest first.
func (c *ContentItem) HistoryStatuses() []workflows.Status {
	out := make([]workflows.Status, len(c.StatusHistory))
	for i, e := range c.StatusHistory {
		out[i] = e.Status
	}
	return out
}

// LastEntry returns the newest history entry, or nil while still in draft.
func (c *ContentItem) LastEntry() *StatusHistoryEntry {
	if len(c.StatusHistory) == 0 {
		return nil
	}
	return &c.StatusHistory[len(c.StatusHistory)-1]
}

// Subject is the view of the item the transition validator needs.
func (c *ContentItem) Subject() workflows.Subject {
	return workflows.Subject{Status: c.Status, ApprovalRequired: c.ApprovalRequired}
}

// StatusHistoryEntry is one immutable record of a transition.
type StatusHistoryEntry struct {
	ID            uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	ContentID     uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_content_history_seq" json:"content_id"`
	Sequence      int              `gorm:"not null;uniqueIndex:idx_content_history_seq" json:"sequence"`
	FromStatus    workflows.Status `gorm:"type:varchar(32);not null" json:"from_status"`
	Status        workflows.Status `gorm:"type:varchar(32);not null;index" json:"status"`
	ChangedAt     time.Time        `gorm:"not null" json:"changed_at"`
	ChangedByID   *string          `gorm:"type:varchar(128)" json:"changed_by_id"`
	ChangedByName *string          `gorm:"type:varchar(255)" json:"changed_by_name"`
	ChangedByRole workflows.Role   `gorm:"type:varchar(16);not null" json:"changed_by_role"`
	Note          *string          `gorm:"type:text" json:"note,omitempty"`
	ReviewRound   int              `gorm:"not null" json:"review_round"`
}

func (StatusHistoryEntry) TableName() string {
	return "content_status_history"
}

func (e *StatusHistoryEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (e *StatusHistoryEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrHistoryImmutable
}

func (e *StatusHistoryEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrHistoryImmutable
}

// Feedback is a past revision request surfaced to producers.
type Feedback struct {
	Round       int       `json:"round"`
	Note        string    `json:"note"`
	RequestedBy *string   `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// ConsistencyReport compares stored workflow fields against the history.
type ConsistencyReport struct {
	ContentID         uuid.UUID         `json:"content_id"`
	Status            workflows.Status  `json:"status"`
	LastHistoryStatus *workflows.Status `json:"last_history_status,omitempty"`
	StoredRound       int               `json:"stored_round"`
	DerivedRound      int               `json:"derived_round"`
	Consistent        bool              `json:"consistent"`
	Problems          []string          `json:"problems,omitempty"`
}

// AuditSummary is the outcome of checking every stored item.
type AuditSummary struct {
	Checked      int         `json:"checked"`
	Inconsistent []uuid.UUID `json:"inconsistent"`
	Repaired     []uuid.UUID `json:"repaired"`
}

// TransitionCompleted is published after every successful transition.
type TransitionCompleted struct {
	ContentID   uuid.UUID        `json:"content_id"`
	ClientID    uuid.UUID        `json:"client_id"`
	Title       string           `json:"title"`
	FromStatus  workflows.Status `json:"from_status"`
	ToStatus    workflows.Status `json:"to_status"`
	ReviewRound int              `json:"review_round"`
	ActorID     *string          `json:"actor_id,omitempty"`
	ActorName   *string          `json:"actor_name,omitempty"`
	ActorRole   workflows.Role   `json:"actor_role"`
	Note        *string          `json:"note,omitempty"`
	ChangedAt   time.Time        `json:"changed_at"`
}

const (
	SubjectTransitionCompleted = "content.transition.completed"
	EventTypeTransition        = "content.transition"
)
