package usecase

import (
	"context"
	"fmt"

	"github.com/gisops/layerkeeper/internal/domain"
)

// Cleanup deletes the portal-side File Geodatabase artifacts left behind
// by export jobs.
type Cleanup struct {
	portal   domain.Portal
	logger   Logger
	maxItems int
}

func NewCleanup(portal domain.Portal, logger Logger, maxItems int) *Cleanup {
	return &Cleanup{
		portal:   portal,
		logger:   logger,
		maxItems: maxItems,
	}
}

// Execute runs the portal-side artifact cleanup; scheduled entry point.
func (uc *Cleanup) Execute(ctx context.Context) error {
	_, err := uc.CleanupExportArtifacts(ctx)
	return err
}

// CleanupExportArtifacts permanently deletes every File Geodatabase item
// owned by the portal user. This blanket sweep is intentional: the export
// step leaves one artifact per layer per run and nothing else under this
// service account should carry that type. Deletions run sequentially;
// per-item failure is counted, never raised.
func (uc *Cleanup) CleanupExportArtifacts(ctx context.Context) (domain.CleanupResult, error) {
	uc.logger.Infof("Searching for File Geodatabase exports...")

	query := domain.OwnerTypeQuery(uc.portal.Username(), domain.TypeFileGeodatabase)
	items, err := uc.portal.Search(ctx, query, uc.maxItems)
	if err != nil {
		return domain.CleanupResult{}, fmt.Errorf("search export artifacts: %w", err)
	}

	if len(items) == 0 {
		uc.logger.Infof("No File Geodatabases found, nothing to delete")
		return domain.CleanupResult{}, nil
	}

	uc.logger.Infof("Found %d File Geodatabase(s), deleting...", len(items))

	var result domain.CleanupResult
	for _, item := range items {
		if err := uc.portal.Delete(ctx, item.ID); err != nil {
			uc.logger.Warnf("Could not delete %s (%s): %v", item.Title, item.ID, err)
			result.Failed++
			continue
		}
		uc.logger.Infof("Deleted: %s (%s)", item.Title, item.ID)
		result.Deleted++
	}

	uc.logger.Infof("Cleanup complete: deleted=%d failed=%d", result.Deleted, result.Failed)
	return result, nil
}
