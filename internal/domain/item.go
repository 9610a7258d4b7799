package domain

import (
	"fmt"
	"time"
)

// Portal item types this system cares about. "Feature Service" is the
// hosted layer being backed up; "File Geodatabase" is the export artifact
// the portal leaves behind after an export call.
const (
	TypeFeatureService  = "Feature Service"
	TypeFileGeodatabase = "File Geodatabase"
)

// ExportFormatFGDB is the export format requested for every backup.
const ExportFormatFGDB = "File Geodatabase"

// DateLayout names one day's run: dated folders and the version tag in
// archive names both use it, e.g. 07_Mar_2026.
const DateLayout = "02_Jan_2006"

// Item is a catalog entry on the content portal. Read-only to this system
// except for permanent deletion of export artifacts.
type Item struct {
	ID    string
	Title string
	Owner string
	Type  string
}

// OwnerTypeQuery builds the portal search query for all items of one type
// owned by a user.
func OwnerTypeQuery(owner, itemType string) string {
	return fmt.Sprintf("owner:%s AND type:'%s'", owner, itemType)
}

// RunSummary aggregates one backup run's per-item outcomes.
type RunSummary struct {
	Total    int
	Exported int
	Skipped  int
	Failed   int
	Elapsed  time.Duration
}

// CleanupResult aggregates one portal-side artifact cleanup run.
type CleanupResult struct {
	Deleted int
	Failed  int
}
