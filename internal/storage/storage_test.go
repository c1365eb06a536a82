package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/animerec/internal/config"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "snapshots/run-1/data.csv", SnapshotKey("run-1"))
	assert.Equal(t, "snapshots/latest/data.csv", LatestSnapshotKey())
	assert.Equal(t, "covers/5114.webp", CoverKey(5114, "webp"))
}

func TestEndpointParsing(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPath string
	}{
		{in: "https://abc.r2.cloudflarestorage.com", wantHost: "abc.r2.cloudflarestorage.com"},
		{in: "http://localhost:9000/", wantHost: "localhost:9000"},
		{in: "https://proj.supabase.co/storage/v1/s3", wantHost: "proj.supabase.co", wantPath: "/storage/v1/s3"},
		{in: "", wantHost: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.wantHost, normalizeEndpoint(tt.in))
			assert.Equal(t, tt.wantPath, endpointPath(tt.in))
		})
	}
}

func TestNewS3StoragePublicURL(t *testing.T) {
	s, err := NewS3Storage(config.StorageConfig{
		Endpoint:  "https://proj.supabase.co/storage/v1/s3",
		Bucket:    "animerec",
		Type:      "supabase",
		UseSSL:    true,
		AccessKey: "k",
		SecretKey: "s",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://proj.supabase.co/storage/v1/s3/animerec/covers/1.jpg", s.GetURL(CoverKey(1, "jpg")))

	s, err = NewS3Storage(config.StorageConfig{Bucket: "b", PublicURL: "https://cdn.example/"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/snapshots/latest/data.csv", s.GetURL(LatestSnapshotKey()))

	_, err = NewS3Storage(config.StorageConfig{})
	assert.Error(t, err)
}

type mapStorage map[string][]byte

func (m mapStorage) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(r)
	m[key] = b
	return err
}

func (m mapStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	b, ok := m[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m mapStorage) GetURL(key string) string { return "mem://" + key }

func (m mapStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m[key]
	return ok, nil
}

func TestDownloadFile(t *testing.T) {
	store := mapStorage{LatestSnapshotKey(): []byte("Id,Title\n1,[\"Cowboy Bebop\"]\n")}
	dst := filepath.Join(t.TempDir(), "artifacts", "data.csv")

	n, err := DownloadFile(context.Background(), store, LatestSnapshotKey(), dst)
	require.NoError(t, err)
	assert.Equal(t, int64(len(store[LatestSnapshotKey()])), n)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, store[LatestSnapshotKey()], got)

	require.NoError(t, os.WriteFile(dst, []byte("keep"), 0o644))
	_, err = DownloadFile(context.Background(), store, "snapshots/missing/data.csv", dst)
	require.Error(t, err)
	got, _ = os.ReadFile(dst)
	assert.Equal(t, "keep", string(got))
}
