package reports

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"pyrus-portal/portal-backend/internal/reports/export"
	"pyrus-portal/portal-backend/pkg/storage"
)

// DigestOptions configures where digests are archived.
type DigestOptions struct {
	Bucket     string
	Prefix     string
	PresignTTL time.Duration
}

// DigestArchiver writes the agency-wide pipeline as a CSV to object storage.
type DigestArchiver struct {
	service *Service
	store   storage.S3Client
	options DigestOptions
	logger  *zap.Logger
}

func NewDigestArchiver(service *Service, store storage.S3Client, options DigestOptions, logger *zap.Logger) *DigestArchiver {
	return &DigestArchiver{service: service, store: store, options: options, logger: logger}
}

// Key returns the object key for a digest generated at now.
func (a *DigestArchiver) Key(now time.Time) string {
	now = now.UTC()
	return path.Join(a.options.Prefix, now.Format("2006/01/02"),
		fmt.Sprintf("pipeline-%s.csv", now.Format("150405")))
}

// Run renders and uploads one digest, returning a presigned download URL
// when PresignTTL is set.
func (a *DigestArchiver) Run(ctx context.Context, now time.Time) (*DigestResult, error) {
	if a.options.Bucket == "" {
		return nil, fmt.Errorf("digest bucket is not configured")
	}

	table, err := a.service.BuildTable(ctx, PipelineFilter{})
	if err != nil {
		return nil, err
	}
	table.Subtitle = "Weekly digest " + now.UTC().Format("2006-01-02")

	var buf bytes.Buffer
	if err := export.NewCSVExporter(&buf, export.DefaultCSVOptions()).WriteTable(table); err != nil {
		return nil, fmt.Errorf("failed to render digest: %w", err)
	}

	key := a.Key(now)
	if err := a.store.Upload(ctx, a.options.Bucket, key, &buf); err != nil {
		return nil, fmt.Errorf("failed to upload digest: %w", err)
	}

	result := &DigestResult{Key: key, RowCount: len(table.Rows), GeneratedAt: now.UTC()}
	if a.options.PresignTTL > 0 {
		url, err := a.store.GetPresignedURL(ctx, a.options.Bucket, key, a.options.PresignTTL)
		if err != nil {
			a.logger.Warn("Failed to presign digest", zap.String("key", key), zap.Error(err))
		} else {
			result.URL = url
		}
	}

	a.logger.Info("Pipeline digest archived",
		zap.String("bucket", a.options.Bucket),
		zap.String("key", key),
		zap.Int("rows", result.RowCount),
	)
	return result, nil
}
