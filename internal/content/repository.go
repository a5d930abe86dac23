package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pyrus-portal/portal-backend/pkg/workflows"
)

var (
	ErrNotFound    = errors.New("content not found")
	ErrConflict    = errors.New("content was modified concurrently")
	ErrNotEditable = errors.New("content payload is locked in its current status")
)

// ListFilter narrows a content listing.
type ListFilter struct {
	ClientID     *uuid.UUID
	Status       *workflows.Status
	ContentType  *ContentType
	ExcludeDraft bool
	Limit        int
	Offset       int
}

// PayloadUpdate carries authoring changes. Nil fields are left untouched.
type PayloadUpdate struct {
	Title          *string
	Body           *string
	Channel        *string
	Metadata       datatypes.JSON
	PublishAt      *time.Time
	ClearPublishAt bool
}

// TransitionWrite is the paired status update and history append for one
// transition. It only applies while the item still has ExpectedStatus and
// ExpectedVersion.
type TransitionWrite struct {
	ContentID       uuid.UUID
	ExpectedStatus  workflows.Status
	ExpectedVersion int
	ReviewRound     int
	Entry           *StatusHistoryEntry
}

type Repository interface {
	CreateContent(ctx context.Context, item *ContentItem) error
	// GetContent returns the item with its full history or ErrNotFound.
	GetContent(ctx context.Context, id uuid.UUID) (*ContentItem, error)
	ListContent(ctx context.Context, filter ListFilter) ([]ContentItem, int64, error)
	UpdatePayload(ctx context.Context, id uuid.UUID, editableIn []workflows.Status, update PayloadUpdate) error

	// ApplyTransition returns ErrConflict when the guard no longer holds.
	ApplyTransition(ctx context.Context, w TransitionWrite) error
	ListHistory(ctx context.Context, id uuid.UUID) ([]StatusHistoryEntry, error)
	SetReviewRound(ctx context.Context, id uuid.UUID, expectedVersion, round int) error

	ListDueForPublish(ctx context.Context, now time.Time, limit int) ([]ContentItem, error)
	ListContentIDs(ctx context.Context, after *uuid.UUID, limit int) ([]uuid.UUID, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns the relational store: content_items plus a child
// content_status_history table.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateContent(ctx context.Context, item *ContentItem) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(item).Error
}

func (r *gormRepository) GetContent(ctx context.Context, id uuid.UUID) (*ContentItem, error) {
	var item ContentItem
	err := r.db.WithContext(ctx).
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *gormRepository) ListContent(ctx context.Context, filter ListFilter) ([]ContentItem, int64, error) {
	query := r.db.WithContext(ctx).Model(&ContentItem{})
	if filter.ClientID != nil {
		query = query.Where("client_id = ?", *filter.ClientID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ContentType != nil {
		query = query.Where("content_type = ?", *filter.ContentType)
	}
	if filter.ExcludeDraft {
		query = query.Where("status <> ?", workflows.StatusDraft)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []ContentItem
	query = query.Order("status_changed_at DESC").Order("id")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *gormRepository) UpdatePayload(ctx context.Context, id uuid.UUID, editableIn []workflows.Status, update PayloadUpdate) error {
	fields := map[string]interface{}{"updated_at": time.Now().UTC()}
	if update.Title != nil {
		fields["title"] = *update.Title
	}
	if update.Body != nil {
		fields["body"] = *update.Body
	}
	if update.Channel != nil {
		fields["channel"] = *update.Channel
	}
	if update.Metadata != nil {
		fields["metadata"] = update.Metadata
	}
	if update.PublishAt != nil {
		fields["publish_at"] = update.PublishAt.UTC()
	} else if update.ClearPublishAt {
		fields["publish_at"] = nil
	}

	res := r.db.WithContext(ctx).Model(&ContentItem{}).
		Where("id = ? AND status IN ?", id, editableIn).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.missingOr(ctx, id, ErrNotEditable)
	}
	return nil
}

func (r *gormRepository) ApplyTransition(ctx context.Context, w TransitionWrite) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ContentItem{}).
			Where("id = ? AND status = ? AND version = ?", w.ContentID, w.ExpectedStatus, w.ExpectedVersion).
			Updates(map[string]interface{}{
				"status":            w.Entry.Status,
				"review_round":      w.ReviewRound,
				"status_changed_at": w.Entry.ChangedAt,
				"updated_at":        w.Entry.ChangedAt,
				"version":           gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update content status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		if err := tx.Create(w.Entry).Error; err != nil {
			return fmt.Errorf("failed to append status history: %w", err)
		}
		return nil
	})
}

func (r *gormRepository) ListHistory(ctx context.Context, id uuid.UUID) ([]StatusHistoryEntry, error) {
	var entries []StatusHistoryEntry
	err := r.db.WithContext(ctx).
		Where("content_id = ?", id).
		Order("sequence ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if err := r.missingOr(ctx, id, nil); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (r *gormRepository) SetReviewRound(ctx context.Context, id uuid.UUID, expectedVersion, round int) error {
	res := r.db.WithContext(ctx).Model(&ContentItem{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"review_round": round,
			"version":      gorm.Expr("version + 1"),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.missingOr(ctx, id, ErrConflict)
	}
	return nil
}

func (r *gormRepository) ListDueForPublish(ctx context.Context, now time.Time, limit int) ([]ContentItem, error) {
	var items []ContentItem
	err := r.db.WithContext(ctx).
		Where("publish_at IS NOT NULL AND publish_at <= ?", now.UTC()).
		Where(r.db.Where("status = ?", workflows.StatusApproved).
			Or("status = ? AND approval_required = ?", workflows.StatusSentForReview, false)).
		Order("publish_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *gormRepository) ListContentIDs(ctx context.Context, after *uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := r.db.WithContext(ctx).Model(&ContentItem{}).Order("id ASC").Limit(limit)
	if after != nil {
		query = query.Where("id > ?", *after)
	}
	var ids []uuid.UUID
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// missingOr distinguishes a vanished row from a failed guard.
func (r *gormRepository) missingOr(ctx context.Context, id uuid.UUID, otherwise error) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&ContentItem{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return otherwise
}
