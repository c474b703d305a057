package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactStore persists exported images and reports where they went
type ArtifactStore interface {
	Save(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// LocalArtifactStore writes artifacts into a directory
type LocalArtifactStore struct {
	dir string
}

func NewLocalArtifactStore(dir string) (*LocalArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &LocalArtifactStore{dir: dir}, nil
}

func (s *LocalArtifactStore) Save(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}

// BlobArtifactStore uploads artifacts to a fixed container
type BlobArtifactStore struct {
	blobs     BlobStorage
	container string
}

func NewBlobArtifactStore(blobs BlobStorage, container string) *BlobArtifactStore {
	return &BlobArtifactStore{blobs: blobs, container: container}
}

func (s *BlobArtifactStore) Save(ctx context.Context, name, contentType string, data []byte) (string, error) {
	return s.blobs.PutBlob(ctx, s.container, name, contentType, data)
}
