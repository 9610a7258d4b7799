package usecase

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gisops/layerkeeper/internal/domain"
)

// Outcome prefixes aggregated by the run summary.
const (
	outcomeExported = "Exported: "
	outcomeSkipped  = "Skipped: "
)

type UploadTarget struct {
	Name    string
	Storage domain.Storage
}

// LocalStore is the slice of the dated-folder manager the pipelines need.
type LocalStore interface {
	DailyFolder(now time.Time) (string, error)
	CountArchives(folder string) (int, error)
	CleanupOldFolders(days int, onError func(path string, err error)) (int, error)
}

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Notifier receives the end-of-run summary message.
type Notifier interface {
	SendNotification(message string) error
}

// Backup exports every hosted feature layer owned by the portal user into
// today's dated folder, one zip per layer per day, with bounded
// parallelism. Failures are isolated per item and surface only in the
// summary counts.
type Backup struct {
	portal        domain.Portal
	local         LocalStore
	archiver      domain.Archiver
	uploadTargets []UploadTarget
	notifier      Notifier
	logger        Logger
	maxItems      int
	retentionDays int
	itemTimeout   time.Duration
	workers       int
}

func NewBackup(
	portal domain.Portal,
	local LocalStore,
	archiver domain.Archiver,
	uploadTargets []UploadTarget,
	notifier Notifier,
	logger Logger,
	maxItems int,
	retentionDays int,
	itemTimeout time.Duration,
) *Backup {
	return &Backup{
		portal:        portal,
		local:         local,
		archiver:      archiver,
		uploadTargets: uploadTargets,
		notifier:      notifier,
		logger:        logger,
		maxItems:      maxItems,
		retentionDays: retentionDays,
		itemTimeout:   itemTimeout,
		workers:       workerCount(),
	}
}

// PruneOldFolders deletes dated folders older than the retention window,
// run before each export pass. A folder that fails to delete is logged
// and skipped.
func (uc *Backup) PruneOldFolders() {
	deleted, err := uc.local.CleanupOldFolders(uc.retentionDays, func(path string, err error) {
		uc.logger.Warnf("Could not delete %s: %v", path, err)
	})
	if err != nil {
		uc.logger.Errorf("Local folder pruning failed: %v", err)
		return
	}
	uc.logger.Infof("Deleted %d old backup folder(s)", deleted)
}

// workerCount sizes the pool from available parallelism, clamped to [2,8].
func workerCount() int {
	n := runtime.NumCPU() / 2
	if n < 2 {
		return 2
	}
	if n > 8 {
		return 8
	}
	return n
}

// Execute runs one backup pass: list hosted layers, export each with the
// bounded pool, summarize, validate, and mirror the day's archives.
func (uc *Backup) Execute(ctx context.Context) error {
	start := time.Now()
	versionTag := start.Format(domain.DateLayout)

	destFolder, err := uc.local.DailyFolder(start)
	if err != nil {
		return fmt.Errorf("create daily folder: %w", err)
	}
	uc.logger.Infof("Backup folder: %s", destFolder)

	query := domain.OwnerTypeQuery(uc.portal.Username(), domain.TypeFeatureService)
	items, err := uc.portal.Search(ctx, query, uc.maxItems)
	if err != nil {
		return fmt.Errorf("search hosted layers: %w", err)
	}
	uc.logger.Infof("Found %d hosted feature layer(s)", len(items))

	if len(items) == 0 {
		uc.logger.Infof("No hosted feature layers found, nothing to export")
		return nil
	}

	uc.logger.Infof("Starting export of %d layer(s) using %d workers", len(items), uc.workers)

	outcomes := make([]string, len(items))
	g := new(errgroup.Group)
	g.SetLimit(uc.workers)

	for i, item := range items {
		g.Go(func() error {
			// ExportOne converts its own failures to an empty outcome;
			// a worker never takes down its siblings.
			outcomes[i] = uc.ExportOne(ctx, item, destFolder, versionTag)
			return nil
		})
	}
	_ = g.Wait()

	summary := summarize(outcomes, time.Since(start))
	uc.logger.Infof("Summary: total=%d exported=%d skipped=%d failed=%d",
		summary.Total, summary.Exported, summary.Skipped, summary.Failed)
	uc.logger.Infof("Total runtime: %s", summary.Elapsed.Round(time.Second))

	if count, err := uc.local.CountArchives(destFolder); err != nil {
		uc.logger.Warnf("Could not count archives in %s: %v", destFolder, err)
	} else {
		uc.logger.Infof("Total zip archives in backup folder: %d", count)
	}

	uc.mirrorArchives(ctx, destFolder)
	uc.notifySummary(summary)

	return nil
}

// ExportOne backs up a single layer. It returns "Exported: <title>",
// "Skipped: <title>" for the idempotent re-run case, or "" when the item
// failed; errors never escape.
func (uc *Backup) ExportOne(ctx context.Context, item domain.Item, destFolder, versionTag string) string {
	start := time.Now()

	backupName := fmt.Sprintf("%s_Backup_%s", SafeFilename(item.Title), versionTag)
	expectedZip := filepath.Join(destFolder, backupName+".zip")
	expectedGdbZip := filepath.Join(destFolder, backupName+".gdb.zip")
	expectedFolder := filepath.Join(destFolder, backupName)

	if fileExists(expectedZip) || fileExists(expectedGdbZip) {
		uc.logger.Infof("Skipping (already backed up): %s", item.Title)
		return outcomeSkipped + item.Title
	}

	// A bare folder with no zip is a leftover from an interrupted run.
	if info, err := os.Stat(expectedFolder); err == nil && info.IsDir() {
		uc.logger.Warnf("Removing incomplete leftover folder: %s", expectedFolder)
		if err := os.RemoveAll(expectedFolder); err != nil {
			uc.logger.Errorf("Could not remove leftover folder %s: %v", expectedFolder, err)
		}
	}

	if uc.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.itemTimeout)
		defer cancel()
	}

	finalPath, err := uc.exportAndDownload(ctx, item, backupName, destFolder)
	if err != nil {
		uc.logger.Errorf("Error exporting %s: %v", item.Title, err)
		return ""
	}

	uc.logger.Infof("Exported %s -> %s (%.1fs)",
		item.Title, finalPath, time.Since(start).Seconds())
	return outcomeExported + item.Title
}

func (uc *Backup) exportAndDownload(ctx context.Context, item domain.Item, backupName, destFolder string) (string, error) {
	if _, err := uc.portal.Get(ctx, item.ID); err != nil {
		return "", fmt.Errorf("resolve item: %w", err)
	}

	uc.logger.Infof("Exporting: %s", item.Title)

	export, err := uc.portal.Export(ctx, item.ID, backupName, domain.ExportFormatFGDB)
	if err != nil {
		return "", fmt.Errorf("request export: %w", err)
	}

	downloaded, err := export.Download(ctx, destFolder)
	if err != nil {
		return "", fmt.Errorf("download export: %w", err)
	}

	// The portal sometimes delivers an unpacked geodatabase folder.
	if !strings.HasSuffix(strings.ToLower(downloaded), ".zip") {
		zipped, err := uc.archiver.ZipDirectory(downloaded)
		if err != nil {
			return "", fmt.Errorf("zip export folder: %w", err)
		}
		return zipped, nil
	}

	return downloaded, nil
}

// mirrorArchives pushes every zip in the dated folder to the enabled
// upload targets, one goroutine per target, fail-soft.
func (uc *Backup) mirrorArchives(ctx context.Context, destFolder string) {
	if len(uc.uploadTargets) == 0 {
		return
	}

	entries, err := os.ReadDir(destFolder)
	if err != nil {
		uc.logger.Errorf("Could not list %s for mirroring: %v", destFolder, err)
		return
	}

	folderName := filepath.Base(destFolder)

	var archives []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(strings.ToLower(entry.Name()), ".zip") {
			archives = append(archives, entry.Name())
		}
	}
	if len(archives) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, target := range uc.uploadTargets {
		wg.Add(1)
		go func(t UploadTarget) {
			defer wg.Done()

			uploaded := 0
			for _, name := range archives {
				localPath := filepath.Join(destFolder, name)
				remoteName := path.Join(folderName, name)

				if err := t.Storage.Upload(ctx, localPath, remoteName); err != nil {
					uc.logger.Errorf("Failed to upload %s to %s: %v", name, t.Name, err)
					continue
				}
				uploaded++
			}
			uc.logger.Infof("Mirrored %d/%d archive(s) to %s", uploaded, len(archives), t.Name)
		}(target)
	}
	wg.Wait()
}

func (uc *Backup) notifySummary(summary domain.RunSummary) {
	if uc.notifier == nil {
		return
	}

	message := fmt.Sprintf(
		"Layer backup completed\n\nTotal: %d\nExported: %d\nSkipped: %d\nFailed: %d\nRuntime: %s",
		summary.Total, summary.Exported, summary.Skipped, summary.Failed,
		summary.Elapsed.Round(time.Second),
	)
	if err := uc.notifier.SendNotification(message); err != nil {
		uc.logger.Errorf("Failed to send summary notification: %v", err)
	}
}

func summarize(outcomes []string, elapsed time.Duration) domain.RunSummary {
	summary := domain.RunSummary{Total: len(outcomes), Elapsed: elapsed}
	for _, outcome := range outcomes {
		switch {
		case strings.HasPrefix(outcome, outcomeExported):
			summary.Exported++
		case strings.HasPrefix(outcome, outcomeSkipped):
			summary.Skipped++
		default:
			summary.Failed++
		}
	}
	return summary
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
