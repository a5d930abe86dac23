package v1

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pyrus-portal/portal-backend/internal/activity"
	"pyrus-portal/portal-backend/internal/activity/websocket"
	"pyrus-portal/portal-backend/internal/auth"
	"pyrus-portal/portal-backend/internal/config"
	"pyrus-portal/portal-backend/internal/content"
	"pyrus-portal/portal-backend/internal/database"
	"pyrus-portal/portal-backend/internal/events"
	"pyrus-portal/portal-backend/internal/reports"
	"pyrus-portal/portal-backend/internal/reports/dashboard"
	"pyrus-portal/portal-backend/pkg/storage"
)

// SetupOptions selects which optional parts of the portal are started.
type SetupOptions struct {
	// LiveFeed starts the websocket hub for /activity/ws.
	LiveFeed bool
	// Digest builds the S3 digest archiver used by the workers.
	Digest bool
}

// PortalAPI holds the wired services shared by the API server and the workers.
type PortalAPI struct {
	Config   *config.Config
	Logger   *zap.Logger
	Bus      events.EventBus
	Tokens   *auth.TokenManager
	Content  content.Service
	Activity activity.Service
	Feed     *websocket.Manager
	// Reports is nil when content lives in mongo; the pipeline read model
	// queries the relational tables.
	Reports *reports.Service
	Digest  *reports.DigestArchiver

	closers []func()
}

// Setup opens the stores named by cfg and wires every service.
func Setup(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts SetupOptions) (_ *PortalAPI, err error) {
	api := &PortalAPI{
		Config: cfg,
		Logger: logger,
		Tokens: auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
	}
	defer func() {
		if err != nil {
			api.Close()
		}
	}()

	db, err := api.openRelational(cfg.Database)
	if err != nil {
		return nil, err
	}

	contentRepo, err := api.contentRepository(ctx, cfg.Database, db)
	if err != nil {
		return nil, err
	}

	if err := api.openBus(cfg.Events); err != nil {
		return nil, err
	}

	api.Content = content.NewService(contentRepo, api.Bus, logger, content.Options{
		StoreTimeout: cfg.Workflow.StoreTimeout,
		ReadRetries:  cfg.Workflow.ReadRetries,
		RetryBackoff: cfg.Workflow.RetryBackoff,
		AuditBatch:   cfg.Workflow.AuditBatch,
		PublishBatch: cfg.Workflow.PublishBatch,
	})

	if opts.LiveFeed {
		api.Feed = websocket.NewManager(logger)
		api.closers = append(api.closers, api.Feed.Close)
	}
	api.Activity = activity.NewService(activity.NewRepository(db), api.Feed, logger)
	subs, err := api.Activity.Subscribe(api.Bus)
	if err != nil {
		return nil, err
	}
	api.track(subs...)

	if cfg.Database.Driver != "mongo" {
		if err := api.setupReports(ctx, cfg, db, opts.Digest); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("Pipeline reports are disabled for the mongo content store")
	}

	return api, nil
}

// openRelational opens the gorm store. With mongo holding content, the
// activity feed still needs a relational table and uses sqlite.
func (a *PortalAPI) openRelational(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Driver == "mongo" {
		cfg.Driver = "sqlite"
	}
	db, err := database.Open(cfg, a.Logger)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func (a *PortalAPI) contentRepository(ctx context.Context, cfg config.DatabaseConfig, db *gorm.DB) (content.Repository, error) {
	if cfg.Driver != "mongo" {
		return content.NewRepository(db), nil
	}

	client, err := database.OpenMongo(ctx, cfg, a.Logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Disconnect(context.Background()) })
	return content.NewMongoRepository(client, cfg.MongoDatabase, ""), nil
}

func (a *PortalAPI) openBus(cfg config.EventsConfig) error {
	if cfg.NATSURL == "" {
		a.Bus = events.NewMemoryEventBus(a.Logger)
	} else {
		bus, err := events.NewNATSEventBus(events.NATSOptions{
			URL:           cfg.NATSURL,
			ClientID:      cfg.ClientID,
			MaxReconnects: cfg.MaxReconnects,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to event bus: %w", err)
		}
		a.Bus = bus
	}
	a.closers = append(a.closers, a.Bus.Close)
	return nil
}

func (a *PortalAPI) setupReports(ctx context.Context, cfg *config.Config, db *gorm.DB, digest bool) error {
	rdb, err := database.OpenReports(cfg.Database, db)
	if err != nil {
		return err
	}
	if cfg.Database.ReportsReplicaURL != "" {
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	var cache dashboard.Cache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		cache = dashboard.NewRedisCache(client, "portal:reports:")
	} else {
		memory := dashboard.NewAggregateCache()
		a.closers = append(a.closers, memory.Stop)
		cache = memory
	}

	a.Reports = reports.NewService(reports.NewSQLRepository(rdb), cache, a.Logger, reports.Options{
		CacheTTL:    cfg.Reports.CacheTTL,
		ExportLimit: reports.DefaultOptions().ExportLimit,
	})
	sub, err := a.Reports.SubscribeInvalidation(a.Bus)
	if err != nil {
		return err
	}
	a.track(sub)

	if !digest {
		return nil
	}

	var store storage.S3Client
	if cfg.Reports.S3Bucket != "" {
		store, err = storage.NewS3Client(ctx, storage.S3Config{
			Region:         cfg.Reports.S3Region,
			Endpoint:       cfg.Reports.S3Endpoint,
			ForcePathStyle: cfg.Reports.S3Endpoint != "",
		})
		if err != nil {
			return err
		}
	} else {
		a.Logger.Warn("reports.s3_bucket is not set, digests are kept in memory")
		store = storage.NewMemoryS3Client()
	}

	bucket := cfg.Reports.S3Bucket
	if bucket == "" {
		bucket = "local"
	}
	a.Digest = reports.NewDigestArchiver(a.Reports, store, reports.DigestOptions{
		Bucket:     bucket,
		Prefix:     cfg.Reports.S3Prefix,
		PresignTTL: cfg.Reports.PresignTTL,
	}, a.Logger)
	return nil
}

func (a *PortalAPI) track(subs ...events.Subscription) {
	for _, sub := range subs {
		sub := sub
		a.closers = append(a.closers, func() { _ = sub.Unsubscribe() })
	}
}

// Close releases everything Setup opened, in reverse order.
func (a *PortalAPI) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
