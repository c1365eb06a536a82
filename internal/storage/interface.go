package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
)

// ObjectStorage is the bucket holding ingestion snapshots and mirrored covers.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// GetURL returns the public URL for key.
	GetURL(key string) string
	Exists(ctx context.Context, key string) (bool, error)
}

const (
	snapshotPrefix = "snapshots"
	coverPrefix    = "covers"
	snapshotFile   = "data.csv"
)

// SnapshotKey is the object key of the snapshot written by runID.
func SnapshotKey(runID string) string {
	return path.Join(snapshotPrefix, runID, snapshotFile)
}

// LatestSnapshotKey always points at the most recent snapshot.
func LatestSnapshotKey() string {
	return path.Join(snapshotPrefix, "latest", snapshotFile)
}

// CoverKey is the object key of a mirrored cover image; ext has no dot.
func CoverKey(malID int, ext string) string {
	return path.Join(coverPrefix, strconv.Itoa(malID)+"."+ext)
}

// DownloadFile copies the object at key into a local file, replacing it only
// once the whole object has been read.
func DownloadFile(ctx context.Context, s ObjectStorage, key, dst string) (int64, error) {
	body, err := s.Download(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("failed to move %s into place: %w", dst, err)
	}
	return n, nil
}
