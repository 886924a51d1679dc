// Package datasetfs serves storage.FS through the registry's dataset API.
package datasetfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/animus-labs/mlregistry-go/internal/registry"
	"github.com/animus-labs/mlregistry-go/internal/storage"
)

// Datasets is the subset of *registry.Datasets used here.
type Datasets interface {
	Stat(ctx context.Context, p string) (registry.Inode, error)
	List(ctx context.Context, p, sortBy string) ([]registry.Inode, error)
	Mkdir(ctx context.Context, p string) error
	Delete(ctx context.Context, p string) error
	Upload(ctx context.Context, localPath, remoteDir string) (string, error)
}

type FS struct {
	datasets Datasets
	logger   *slog.Logger
}

func New(datasets Datasets, logger *slog.Logger) (*FS, error) {
	if datasets == nil {
		return nil, errors.New("datasets api is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{datasets: datasets, logger: logger}, nil
}

var _ storage.FS = (*FS)(nil)

func notExist(err error) error {
	if errors.Is(err, registry.ErrNotFound) {
		return fmt.Errorf("%w: %w", storage.ErrNotExist, err)
	}
	return err
}

func (f *FS) Exists(ctx context.Context, p string) (bool, error) {
	_, err := f.datasets.Stat(ctx, storage.Clean(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, registry.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (f *FS) List(ctx context.Context, p string, sortBy storage.SortBy) ([]storage.Entry, error) {
	if !sortBy.Valid() {
		return nil, fmt.Errorf("unsupported sort %q", sortBy)
	}
	p = storage.Clean(p)
	inodes, err := f.datasets.List(ctx, p, string(sortBy))
	if err != nil {
		return nil, notExist(err)
	}
	entries := make([]storage.Entry, 0, len(inodes))
	for _, n := range inodes {
		entryPath := n.Path
		if entryPath == "" {
			entryPath = p + "/" + n.Name
		}
		entries = append(entries, storage.Entry{
			Name:       n.Name,
			Path:       storage.Clean(entryPath),
			Dir:        n.Dir,
			Size:       n.Size,
			Attributes: n.Attributes,
		})
	}
	storage.SortEntries(entries, sortBy)
	return entries, nil
}

func (f *FS) Mkdir(ctx context.Context, p string) error {
	return f.datasets.Mkdir(ctx, storage.Clean(p))
}

// Chmod is a no-op: dataset permissions are managed by the registry.
func (f *FS) Chmod(ctx context.Context, p, mode string) error {
	f.logger.Debug("chmod skipped for dataset path", "path", storage.Clean(p), "mode", mode)
	return nil
}

func (f *FS) Upload(ctx context.Context, localPath, remoteDir string) (string, error) {
	return f.datasets.Upload(ctx, localPath, storage.Clean(remoteDir))
}

func (f *FS) Delete(ctx context.Context, p string) error {
	if err := f.datasets.Delete(ctx, storage.Clean(p)); err != nil {
		return notExist(err)
	}
	return nil
}
