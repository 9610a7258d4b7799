package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gisops/layerkeeper/internal/adapter/archive"
	"github.com/gisops/layerkeeper/internal/adapter/portal"
	"github.com/gisops/layerkeeper/internal/adapter/storage"
	"github.com/gisops/layerkeeper/internal/config"
	"github.com/gisops/layerkeeper/internal/infrastructure/logger"
	"github.com/gisops/layerkeeper/internal/infrastructure/scheduler"
	"github.com/gisops/layerkeeper/internal/usecase"
)

type App struct {
	config     *config.Config
	backupLog  *logger.Logger
	cleanupLog *logger.Logger
	scheduler  *scheduler.Scheduler
	portal     *portal.Client
	backupUC   *usecase.Backup
	cleanupUC  *usecase.Cleanup
}

func New(cfg *config.Config) (*App, error) {
	// The backup and cleanup pipelines each own a per-run log file, both
	// mirrored to the console.
	backupLog, err := logger.New(cfg.App.LogLevel, cfg.Backup.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backup logger: %w", err)
	}

	cleanupLog, err := logger.New(cfg.App.LogLevel, cfg.Cleanup.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cleanup logger: %w", err)
	}

	backupLog.Infof("Starting %s", cfg.App.Name)

	portalClient, err := portal.New(&cfg.Portal)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize portal client: %w", err)
	}

	localStorage, err := storage.NewLocal(cfg.Backup.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local storage: %w", err)
	}

	archiver := archive.NewZip()

	uploadTargets, notifier := initializeUploadTargets(cfg, backupLog)

	backupUC := usecase.NewBackup(
		portalClient,
		localStorage,
		archiver,
		uploadTargets,
		notifier,
		backupLog,
		cfg.Backup.MaxItems,
		cfg.Backup.RetentionDays,
		cfg.Backup.ItemTimeout,
	)

	cleanupUC := usecase.NewCleanup(portalClient, cleanupLog, cfg.Cleanup.MaxItems)

	return &App{
		config:     cfg,
		backupLog:  backupLog,
		cleanupLog: cleanupLog,
		scheduler:  scheduler.New(),
		portal:     portalClient,
		backupUC:   backupUC,
		cleanupUC:  cleanupUC,
	}, nil
}

func initializeUploadTargets(cfg *config.Config, log *logger.Logger) ([]usecase.UploadTarget, usecase.Notifier) {
	var targets []usecase.UploadTarget
	var notifier usecase.Notifier

	for _, targetCfg := range cfg.GetEnabledUploadTargets() {
		switch targetCfg.Type {
		case "s3":
			stor, err := storage.NewS3(&targetCfg)
			if err != nil {
				log.Errorf("Failed to initialize S3: %v", err)
				continue
			}
			log.Infof("S3 mirror enabled (bucket: %s)", targetCfg.Bucket)
			targets = append(targets, usecase.UploadTarget{Name: "s3", Storage: stor})

		case "gdrive":
			stor, err := storage.NewGDrive(&targetCfg)
			if err != nil {
				log.Errorf("Failed to initialize Google Drive: %v", err)
				continue
			}
			log.Infof("Google Drive mirror enabled")
			targets = append(targets, usecase.UploadTarget{Name: "gdrive", Storage: stor})

		case "telegram":
			stor, err := storage.NewTelegram(&targetCfg)
			if err != nil {
				log.Errorf("Failed to initialize Telegram: %v", err)
				continue
			}
			log.Infof("Telegram notifications enabled")
			notifier = stor
			if !targetCfg.NotifyOnly {
				targets = append(targets, usecase.UploadTarget{Name: "telegram", Storage: stor})
			}

		default:
			log.Warnf("Unknown upload target type: %s", targetCfg.Type)
		}
	}

	return targets, notifier
}

// RunBackupCycle is one complete run: authenticate, prune old local
// folders, export every hosted layer, then delete the portal-side export
// artifacts.
func (a *App) RunBackupCycle(ctx context.Context) error {
	start := time.Now()

	a.backupLog.Infof("Authenticating with %s...", a.config.Portal.URL)
	if err := a.portal.Connect(ctx); err != nil {
		return fmt.Errorf("portal authentication: %w", err)
	}
	a.backupLog.Infof("Logged in as %s", a.portal.Username())

	a.backupUC.PruneOldFolders()

	if err := a.backupUC.Execute(ctx); err != nil {
		return fmt.Errorf("backup run: %w", err)
	}
	a.backupLog.Infof("Daily backup completed | Duration: %s", time.Since(start).Round(time.Second))

	result, err := a.cleanupUC.CleanupExportArtifacts(ctx)
	if err != nil {
		return fmt.Errorf("artifact cleanup: %w", err)
	}
	a.backupLog.Infof("FGDB cleanup result: deleted=%d failed=%d", result.Deleted, result.Failed)

	return nil
}

// Run either executes one cycle immediately (once mode) or registers the
// cron jobs and blocks until the context is cancelled. A failed scheduled
// cycle is logged as critical and the process keeps running.
func (a *App) Run(ctx context.Context, once bool) error {
	if once {
		if err := a.RunBackupCycle(ctx); err != nil {
			a.backupLog.Errorf("Critical failure: %v", err)
		}
		return nil
	}

	if a.config.Backup.Schedule == "" {
		return fmt.Errorf("backup.schedule is required unless running with -once")
	}

	if err := a.scheduler.AddJob(a.config.Backup.Schedule, func(ctx context.Context) error {
		a.backupLog.Infof("=== Triggered scheduled backup ===")
		if err := a.RunBackupCycle(ctx); err != nil {
			a.backupLog.Errorf("Critical failure: %v", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to schedule backup: %w", err)
	}
	a.backupLog.Infof("Scheduled backup: %s", a.config.Backup.Schedule)

	// An extra standalone sweep of export artifacts, for operators who
	// want it more often than the backup cycle's own cleanup.
	if a.config.Cleanup.Schedule != "" {
		if err := a.scheduler.AddJob(a.config.Cleanup.Schedule, func(ctx context.Context) error {
			a.cleanupLog.Infof("=== Triggered scheduled artifact cleanup ===")
			if err := a.cleanupUC.Execute(ctx); err != nil {
				a.cleanupLog.Errorf("Critical failure: %v", err)
			}
			return nil
		}); err != nil {
			return fmt.Errorf("failed to schedule cleanup: %w", err)
		}
		a.cleanupLog.Infof("Scheduled artifact cleanup: %s", a.config.Cleanup.Schedule)
	}

	a.scheduler.Start(ctx)
	a.backupLog.Infof("Scheduler started successfully")

	<-ctx.Done()
	return nil
}

func (a *App) Shutdown() {
	a.backupLog.Infof("Shutting down...")
	a.scheduler.Stop()
	a.backupLog.Close()
	a.cleanupLog.Close()
}
