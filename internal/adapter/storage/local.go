package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gisops/layerkeeper/internal/domain"
)

// LocalStorage manages the dated backup folders under a base directory.
// Each run writes into <base>/<DD_Mon_YYYY>/ and folders older than the
// retention window are pruned wholesale.
type LocalStorage struct {
	basePath string
}

func NewLocal(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (l *LocalStorage) BasePath() string {
	return l.basePath
}

// DailyFolder creates (idempotently) and returns today's dated folder.
func (l *LocalStorage) DailyFolder(now time.Time) (string, error) {
	folderPath := filepath.Join(l.basePath, now.Format(domain.DateLayout))
	if err := os.MkdirAll(folderPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create daily folder: %w", err)
	}
	return folderPath, nil
}

// CleanupOldFolders deletes every immediate subdirectory whose modification
// time is older than now-days. Failures are reported per folder through
// onError and never stop the sweep. Non-directory entries are left alone.
func (l *LocalStorage) CleanupOldFolders(days int, onError func(path string, err error)) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read base directory: %w", err)
	}

	deleted := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(l.basePath, entry.Name())
		info, err := entry.Info()
		if err != nil {
			if onError != nil {
				onError(path, err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			if onError != nil {
				onError(path, err)
			}
			continue
		}
		deleted++
	}

	return deleted, nil
}

// CountArchives returns how many zip files sit in folder, the post-run
// sanity check logged by the backup pipeline.
func (l *LocalStorage) CountArchives(folder string) (int, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0, fmt.Errorf("failed to read folder: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(strings.ToLower(entry.Name()), ".zip") {
			count++
		}
	}
	return count, nil
}

// Upload copies a local file under the base directory; remoteName may
// contain a dated-folder prefix.
func (l *LocalStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	destPath := filepath.Join(l.basePath, remoteName)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create dest directory: %w", err)
	}

	source, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer dest.Close()

	if _, err := dest.ReadFrom(source); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}

	return nil
}

func (l *LocalStorage) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}

	return files, nil
}

func (l *LocalStorage) Delete(ctx context.Context, remoteName string) error {
	filePath := filepath.Join(l.basePath, remoteName)
	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (l *LocalStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var oldFiles []string
	for _, entry := range entries {
		if !entry.IsDir() {
			info, err := entry.Info()
			if err != nil {
				return nil, fmt.Errorf("failed to get file info for %s: %w", entry.Name(), err)
			}
			if info.ModTime().Before(cutoffTime) {
				oldFiles = append(oldFiles, entry.Name())
			}
		}
	}

	return oldFiles, nil
}

func (l *LocalStorage) GetPath(filename string) string {
	return filepath.Join(l.basePath, filename)
}
