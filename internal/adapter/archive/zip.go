package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ZipArchiver packages an export directory into a single zip, used when
// the portal delivers an unpacked geodatabase folder instead of a zip.
type ZipArchiver struct{}

func NewZip() *ZipArchiver {
	return &ZipArchiver{}
}

// ZipDirectory compresses src into src+".zip" and removes src on success.
// Archive paths are kept relative to src's parent, so the zip unpacks to
// the original folder name.
func (z *ZipArchiver) ZipDirectory(src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("failed to stat source: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source is not a directory: %s", src)
	}

	zipPath := src + ".zip"
	if err := z.writeZip(src, zipPath); err != nil {
		os.Remove(zipPath)
		return "", err
	}

	if err := os.RemoveAll(src); err != nil {
		return "", fmt.Errorf("failed to remove source directory: %w", err)
	}

	return zipPath, nil
}

func (z *ZipArchiver) writeZip(src, zipPath string) error {
	destFile, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create zip file: %w", err)
	}
	defer destFile.Close()

	writer := zip.NewWriter(destFile)
	defer writer.Close()

	root := filepath.Dir(src)

	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		entry, err := writer.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		source, err := os.Open(path)
		if err != nil {
			return err
		}
		defer source.Close()

		_, err = io.Copy(entry, source)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to compress directory: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize zip: %w", err)
	}

	return destFile.Close()
}
