package reports

import (
	"time"

	"github.com/google/uuid"

	"pyrus-portal/portal-backend/pkg/workflows"
)

// =====================================================
// Enums and Constants
// =====================================================

// ExportFormat represents supported export formats
type ExportFormat string

const (
	ExportFormatCSV   ExportFormat = "csv"
	ExportFormatExcel ExportFormat = "xlsx"
	ExportFormatPDF   ExportFormat = "pdf"
)

func ParseExportFormat(s string) (ExportFormat, bool) {
	switch f := ExportFormat(s); f {
	case ExportFormatCSV, ExportFormatExcel, ExportFormatPDF:
		return f, true
	case "excel":
		return ExportFormatExcel, true
	}
	return "", false
}

func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ExportFormatPDF:
		return "application/pdf"
	default:
		return "text/csv"
	}
}

// =====================================================
// Read model rows
// =====================================================

// PipelineFilter scopes a report to one client account; nil means agency-wide.
type PipelineFilter struct {
	ClientID *uuid.UUID
}

func (f PipelineFilter) cacheKey() string {
	if f.ClientID == nil {
		return cachePrefix + "all"
	}
	return cachePrefix + "client:" + f.ClientID.String()
}

type StatusCount struct {
	Status workflows.Status `db:"status"`
	Count  int              `db:"count"`
}

type RoundStats struct {
	Average float64 `db:"average"`
	Max     int     `db:"max"`
}

// PipelineRow is one item as listed in exports.
type PipelineRow struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	ClientID         uuid.UUID        `db:"client_id" json:"client_id"`
	Title            string           `db:"title" json:"title"`
	ContentType      string           `db:"content_type" json:"content_type"`
	Status           workflows.Status `db:"status" json:"status"`
	ApprovalRequired bool             `db:"approval_required" json:"approval_required"`
	ReviewRound      int              `db:"review_round" json:"review_round"`
	StatusChangedAt  time.Time        `db:"status_changed_at" json:"status_changed_at"`
}

// =====================================================
// Responses
// =====================================================

// PipelineSummary counts work by where it is waiting.
type PipelineSummary struct {
	ClientID *uuid.UUID     `json:"client_id,omitempty"`
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	// AwaitingClient: sent_for_review and client_reviewing.
	AwaitingClient int `json:"awaiting_client"`
	// AwaitingProducer: draft, revisions_requested and approved.
	AwaitingProducer   int     `json:"awaiting_producer"`
	Published          int     `json:"published"`
	AverageReviewRound float64 `json:"average_review_round"`
	MaxReviewRound     int     `json:"max_review_round"`
}

type PipelineSummaryResponse struct {
	Summary     PipelineSummary `json:"summary"`
	ComputedAt  time.Time       `json:"computed_at"`
	NextRefresh time.Time       `json:"next_refresh"`
	Cached      bool            `json:"cached"`
}

// ExportResult is a rendered report file.
type ExportResult struct {
	Format      ExportFormat
	FileName    string
	ContentType string
	Data        []byte
	RowCount    int
}

// DigestResult describes an archived digest.
type DigestResult struct {
	Key         string    `json:"key"`
	URL         string    `json:"url,omitempty"`
	RowCount    int       `json:"row_count"`
	GeneratedAt time.Time `json:"generated_at"`
}
