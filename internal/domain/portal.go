package domain

import "context"

// Export is the transient handle for a server-side export job, created per
// Export call and discarded after download.
type Export interface {
	// ItemID is the id of the portal item holding the exported payload.
	ItemID() string
	// Download saves the exported payload into dir and returns the local
	// path. The portal may deliver either a zip file or an unpacked
	// directory; callers must handle both.
	Download(ctx context.Context, dir string) (string, error)
}

// Portal is the capability set consumed from the content platform:
// authenticate (implicit in construction), search, export, download,
// delete. The concrete client lives in adapter/portal; tests use an
// in-memory double.
type Portal interface {
	Username() string
	Search(ctx context.Context, query string, max int) ([]Item, error)
	Get(ctx context.Context, id string) (*Item, error)
	Export(ctx context.Context, itemID, title, format string) (Export, error)
	Delete(ctx context.Context, itemID string) error
}
