package reports

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository reads the pipeline from the content tables.
type Repository interface {
	CountByStatus(ctx context.Context, filter PipelineFilter) ([]StatusCount, error)
	RoundStats(ctx context.Context, filter PipelineFilter) (RoundStats, error)
	ListPipeline(ctx context.Context, filter PipelineFilter, limit int) ([]PipelineRow, error)
}

// SQLRepository implements Repository with sqlx. Queries use ? and are
// rebound, so the same code serves postgres and sqlite.
type SQLRepository struct {
	db *sqlx.DB
}

func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) where(filter PipelineFilter) (string, []interface{}) {
	if filter.ClientID == nil {
		return "", nil
	}
	return " WHERE client_id = ?", []interface{}{*filter.ClientID}
}

func (r *SQLRepository) CountByStatus(ctx context.Context, filter PipelineFilter) ([]StatusCount, error) {
	where, args := r.where(filter)
	query := r.db.Rebind(`SELECT status, COUNT(*) AS count FROM content_items` + where + ` GROUP BY status`)

	var counts []StatusCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count content by status: %w", err)
	}
	return counts, nil
}

func (r *SQLRepository) RoundStats(ctx context.Context, filter PipelineFilter) (RoundStats, error) {
	where, args := r.where(filter)
	query := r.db.Rebind(`SELECT COALESCE(AVG(review_round), 0) AS average, COALESCE(MAX(review_round), 0) AS max FROM content_items` + where)

	var stats RoundStats
	if err := r.db.GetContext(ctx, &stats, query, args...); err != nil {
		return RoundStats{}, fmt.Errorf("failed to compute review round stats: %w", err)
	}
	return stats, nil
}

func (r *SQLRepository) ListPipeline(ctx context.Context, filter PipelineFilter, limit int) ([]PipelineRow, error) {
	where, args := r.where(filter)
	query := `SELECT id, client_id, title, content_type, status, approval_required, review_round, status_changed_at
		FROM content_items` + where + ` ORDER BY status_changed_at DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []PipelineRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list pipeline: %w", err)
	}
	return rows, nil
}
