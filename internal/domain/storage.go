package domain

import (
	"context"
	"time"
)

// Storage is a mirror target for finished day archives (S3, Drive,
// Telegram). Remote names are relative paths under the target's root,
// typically "<DD_Mon_YYYY>/<archive>.zip".
type Storage interface {
	Upload(ctx context.Context, localPath string, remoteName string) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, remoteName string) error
	GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error)
}
