package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pyrus-portal/portal-backend/internal/content"
	"pyrus-portal/portal-backend/internal/events"
	"pyrus-portal/portal-backend/internal/reports/dashboard"
	"pyrus-portal/portal-backend/internal/reports/export"
	"pyrus-portal/portal-backend/pkg/workflows"
)

const cachePrefix = "pipeline:"

// Options tunes caching and export size.
type Options struct {
	CacheTTL    time.Duration
	ExportLimit int
}

func DefaultOptions() Options {
	return Options{CacheTTL: 5 * time.Minute, ExportLimit: 5000}
}

// Service handles pipeline reporting.
type Service struct {
	repo    Repository
	cache   dashboard.Cache
	logger  *zap.Logger
	options Options
	now     func() time.Time
}

// NewService creates a reports service. cache may be nil to disable caching.
func NewService(repo Repository, cache dashboard.Cache, logger *zap.Logger, options Options) *Service {
	return &Service{
		repo:    repo,
		cache:   cache,
		logger:  logger,
		options: options,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// =====================================================
// Pipeline summary
// =====================================================

// GetPipelineSummary returns the cached summary when fresh and computes it otherwise.
func (s *Service) GetPipelineSummary(ctx context.Context, filter PipelineFilter) (*PipelineSummaryResponse, error) {
	key := filter.cacheKey()

	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to read pipeline cache", zap.String("key", key), zap.Error(err))
		}
		if ok {
			var cached PipelineSummaryResponse
			if err := json.Unmarshal(raw, &cached); err == nil {
				cached.Cached = true
				return &cached, nil
			}
			s.logger.Warn("Discarding unreadable pipeline cache entry", zap.String("key", key))
		}
	}

	summary, err := s.computeSummary(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := s.now()
	resp := &PipelineSummaryResponse{
		Summary:     *summary,
		ComputedAt:  now,
		NextRefresh: now.Add(s.options.CacheTTL),
	}

	if s.cache != nil && s.options.CacheTTL > 0 {
		if raw, err := json.Marshal(resp); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.options.CacheTTL); err != nil {
				s.logger.Warn("Failed to cache pipeline summary", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return resp, nil
}

func (s *Service) computeSummary(ctx context.Context, filter PipelineFilter) (*PipelineSummary, error) {
	counts, err := s.repo.CountByStatus(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to compute pipeline summary: %w", err)
	}
	rounds, err := s.repo.RoundStats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to compute pipeline summary: %w", err)
	}

	summary := &PipelineSummary{
		ClientID:           filter.ClientID,
		ByStatus:           make(map[string]int, len(workflows.Statuses())),
		AverageReviewRound: rounds.Average,
		MaxReviewRound:     rounds.Max,
	}
	for _, st := range workflows.Statuses() {
		summary.ByStatus[st.String()] = 0
	}
	for _, c := range counts {
		summary.ByStatus[c.Status.String()] += c.Count
		summary.Total += c.Count
		switch c.Status {
		case workflows.StatusSentForReview, workflows.StatusClientReviewing:
			summary.AwaitingClient += c.Count
		case workflows.StatusDraft, workflows.StatusRevisionsRequested, workflows.StatusApproved:
			summary.AwaitingProducer += c.Count
		case workflows.StatusPublished:
			summary.Published += c.Count
		}
	}
	return summary, nil
}

// Invalidate drops every cached summary.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeleteByPrefix(ctx, cachePrefix)
}

// SubscribeInvalidation clears cached summaries whenever content changes status.
func (s *Service) SubscribeInvalidation(bus events.EventBus) (events.Subscription, error) {
	return bus.Subscribe(content.SubjectTransitionCompleted, func(ctx context.Context, _ *events.Event) error {
		if err := s.Invalidate(ctx); err != nil {
			s.logger.Warn("Failed to invalidate pipeline cache", zap.Error(err))
			return err
		}
		return nil
	})
}

// =====================================================
// Export
// =====================================================

var pipelineColumns = []export.Column{
	{Key: "title", Label: "Title"},
	{Key: "client_id", Label: "Client"},
	{Key: "content_type", Label: "Type"},
	{Key: "status", Label: "Status"},
	{Key: "approval_required", Label: "Approval"},
	{Key: "review_round", Label: "Review Round"},
	{Key: "status_changed_at", Label: "Status Changed"},
}

// BuildTable loads the pipeline and its summary into an export table.
func (s *Service) BuildTable(ctx context.Context, filter PipelineFilter) (*export.Table, error) {
	rows, err := s.repo.ListPipeline(ctx, filter, s.options.ExportLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline for export: %w", err)
	}
	summary, err := s.computeSummary(ctx, filter)
	if err != nil {
		return nil, err
	}

	table := &export.Table{
		Title:   "Content Pipeline",
		Columns: pipelineColumns,
		Rows:    make([]map[string]interface{}, 0, len(rows)),
		Summary: []export.SummaryItem{
			{Label: "Total items", Value: summary.Total},
			{Label: "Awaiting client", Value: summary.AwaitingClient},
			{Label: "Awaiting producer", Value: summary.AwaitingProducer},
			{Label: "Published", Value: summary.Published},
			{Label: "Average review round", Value: summary.AverageReviewRound},
			{Label: "Max review round", Value: summary.MaxReviewRound},
		},
	}
	if filter.ClientID != nil {
		table.Subtitle = "Client " + filter.ClientID.String()
	}
	for _, r := range rows {
		table.Rows = append(table.Rows, map[string]interface{}{
			"title":             r.Title,
			"client_id":         r.ClientID.String(),
			"content_type":      r.ContentType,
			"status":            r.Status.String(),
			"approval_required": r.ApprovalRequired,
			"review_round":      r.ReviewRound,
			"status_changed_at": r.StatusChangedAt,
		})
	}
	return table, nil
}

// Export renders the pipeline in the requested format.
func (s *Service) Export(ctx context.Context, filter PipelineFilter, format ExportFormat) (*ExportResult, error) {
	table, err := s.BuildTable(ctx, filter)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch format {
	case ExportFormatCSV:
		err = export.NewCSVExporter(&buf, export.DefaultCSVOptions()).WriteTable(table)
	case ExportFormatExcel:
		xlsx := export.NewExcelExporter(export.DefaultExcelOptions())
		if err = xlsx.WriteTable(table); err == nil {
			err = xlsx.WriteTo(&buf)
		}
		_ = xlsx.Close()
	case ExportFormatPDF:
		pdf := export.NewPDFGenerator(export.DefaultPDFOptions())
		if err = pdf.GenerateTable(table); err == nil {
			err = pdf.WriteTo(&buf)
		}
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s export: %w", format, err)
	}

	s.logger.Info("Pipeline exported",
		zap.String("format", string(format)),
		zap.Int("rows", len(table.Rows)),
	)
	return &ExportResult{
		Format:      format,
		FileName:    fmt.Sprintf("pipeline-%s.%s", s.now().Format("20060102-150405"), format),
		ContentType: format.ContentType(),
		Data:        buf.Bytes(),
		RowCount:    len(table.Rows),
	}, nil
}
