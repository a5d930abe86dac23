package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	v1 "pyrus-portal/portal-backend/api/v1"
	"pyrus-portal/portal-backend/internal/config"
	"pyrus-portal/portal-backend/internal/reports/scheduler"
	"pyrus-portal/portal-backend/pkg/logger"
)

var (
	configFlag = flag.String("config", "", "Path to config.yaml or a directory holding it")
	onceFlag   = flag.String("once", "", "Run one job (consistency-audit, scheduled-publish, pipeline-digest) and exit")
)

func main() {
	flag.Parse()
	config.LoadDotEnv()

	cfg, err := config.LoadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	api, err := v1.Setup(context.Background(), cfg, log, v1.SetupOptions{Digest: true})
	if err != nil {
		log.Fatal("Failed to initialize workers", zap.Error(err))
	}
	defer api.Close()

	jobs := buildJobs(api, cfg, log)
	manager := scheduler.NewManager(log)

	if *onceFlag != "" {
		for _, job := range jobs {
			if job.Name == *onceFlag {
				if err := manager.RunNow(context.Background(), job); err != nil {
					os.Exit(1)
				}
				return
			}
		}
		log.Fatal("Unknown job", zap.String("job", *onceFlag))
	}

	for _, job := range jobs {
		if err := manager.AddJob(job); err != nil {
			log.Fatal("Failed to schedule job", zap.String("job", job.Name), zap.Error(err))
		}
	}
	if err := manager.Start(); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down workers...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	manager.Stop(ctx)
	log.Info("Workers exiting")
}

func buildJobs(api *v1.PortalAPI, cfg *config.Config, log *zap.Logger) []scheduler.Job {
	jobs := []scheduler.Job{
		{
			Name:           "consistency-audit",
			CronExpression: cfg.Workers.ConsistencySchedule,
			Timeout:        30 * time.Minute,
			Run: func(ctx context.Context) error {
				summary, err := api.Content.AuditAll(ctx, cfg.Workers.AutoRepair)
				if err != nil {
					return err
				}
				log.Info("Consistency audit finished",
					zap.Int("checked", summary.Checked),
					zap.Int("inconsistent", len(summary.Inconsistent)),
					zap.Int("repaired", len(summary.Repaired)))
				return nil
			},
		},
		{
			Name:           "scheduled-publish",
			CronExpression: cfg.Workers.PublishSchedule,
			Timeout:        5 * time.Minute,
			Run: func(ctx context.Context) error {
				published, err := api.Content.PublishDue(ctx, time.Now().UTC())
				if err != nil {
					return err
				}
				if len(published) > 0 {
					log.Info("Published scheduled content", zap.Int("count", len(published)))
				}
				return nil
			},
		},
	}

	if api.Digest != nil {
		jobs = append(jobs, scheduler.Job{
			Name:           "pipeline-digest",
			CronExpression: cfg.Reports.DigestSchedule,
			Timeout:        10 * time.Minute,
			Run: func(ctx context.Context) error {
				result, err := api.Digest.Run(ctx, time.Now().UTC())
				if err != nil {
					return err
				}
				log.Info("Pipeline digest ready", zap.String("key", result.Key), zap.String("url", result.URL))
				return nil
			},
		})
	}
	return jobs
}
