package activity

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	Record(ctx context.Context, a *Activity) error
	List(ctx context.Context, filter ListFilter) ([]Activity, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Record inserts a; an activity that already exists is left untouched.
func (r *gormRepository) Record(ctx context.Context, a *Activity) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(a).Error
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

func (r *gormRepository) List(ctx context.Context, filter ListFilter) ([]Activity, error) {
	query := r.db.WithContext(ctx).Model(&Activity{})
	if filter.ClientID != nil {
		query = query.Where("client_id = ?", *filter.ClientID)
	}
	if filter.ContentID != nil {
		query = query.Where("content_id = ?", *filter.ContentID)
	}
	if filter.Before != nil {
		query = query.Where("occurred_at < ?", *filter.Before)
	}

	var out []Activity
	if err := query.Order("occurred_at DESC").Limit(filter.Limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return out, nil
}
