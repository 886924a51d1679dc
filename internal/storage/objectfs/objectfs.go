// Package objectfs serves storage.FS from an S3-compatible bucket. A
// directory is a zero-byte "dir/" marker object; files are plain objects.
package objectfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/animus-labs/mlregistry-go/internal/platform/objectstore"
	"github.com/animus-labs/mlregistry-go/internal/storage"
	"github.com/minio/minio-go/v7"
)

// ObjectAPI is the subset of *minio.Client used here.
type ObjectAPI interface {
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FPutObject(ctx context.Context, bucket, key, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
}

const (
	dirContentType = "application/x-directory"
	modeMetaKey    = "Mode"
)

type FS struct {
	api    ObjectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

func New(api ObjectAPI, bucket, prefix string, logger *slog.Logger) (*FS, error) {
	if api == nil {
		return nil, errors.New("object api is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{
		api:    api,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		logger: logger,
	}, nil
}

// Open connects to the bucket described by cfg and checks that it exists.
func Open(ctx context.Context, cfg objectstore.Config, logger *slog.Logger) (*FS, error) {
	client, err := objectstore.NewClient(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	if err := objectstore.CheckBucket(ctx, client, cfg); err != nil {
		return nil, err
	}
	return New(client, cfg.Bucket, cfg.Prefix, logger)
}

var _ storage.FS = (*FS)(nil)

// key maps an FS path to its object key, without trailing slash.
func (f *FS) key(p string) string {
	k := strings.TrimPrefix(storage.Clean(p), "/")
	if f.prefix == "" {
		return k
	}
	if k == "" {
		return f.prefix
	}
	return f.prefix + "/" + k
}

func (f *FS) dirKey(p string) string {
	k := f.key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

// fsPath maps an object key back to an FS path.
func (f *FS) fsPath(key string) string {
	key = strings.TrimSuffix(key, "/")
	if f.prefix != "" {
		key = strings.TrimPrefix(strings.TrimPrefix(key, f.prefix), "/")
	}
	return storage.Clean(key)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func (f *FS) statExists(ctx context.Context, key string) (bool, error) {
	_, err := f.api.StatObject(ctx, f.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", key, err)
}

// Exists is true for a file object, a directory marker, or any key under the
// directory prefix.
func (f *FS) Exists(ctx context.Context, p string) (bool, error) {
	if ok, err := f.statExists(ctx, f.key(p)); err != nil || ok {
		return ok, err
	}
	dir := f.dirKey(p)
	if ok, err := f.statExists(ctx, dir); err != nil || ok {
		return ok, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range f.api.ListObjects(ctx, f.bucket, minio.ListObjectsOptions{Prefix: dir, MaxKeys: 1}) {
		if obj.Err != nil {
			return false, fmt.Errorf("list %s: %w", dir, obj.Err)
		}
		return true, nil
	}
	return false, nil
}

func (f *FS) List(ctx context.Context, p string, sortBy storage.SortBy) ([]storage.Entry, error) {
	if !sortBy.Valid() {
		return nil, fmt.Errorf("unsupported sort %q", sortBy)
	}
	dir := f.dirKey(p)
	entries := []storage.Entry{}
	sawMarker := false
	for obj := range f.api.ListObjects(ctx, f.bucket, minio.ListObjectsOptions{Prefix: dir, WithMetadata: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", p, obj.Err)
		}
		if obj.Key == dir {
			sawMarker = true
			continue
		}
		isDir := strings.HasSuffix(obj.Key, "/")
		entry := storage.Entry{
			Name: path.Base(strings.TrimSuffix(obj.Key, "/")),
			Path: f.fsPath(obj.Key),
			Dir:  isDir,
		}
		if !isDir {
			entry.Size = obj.Size
			entry.Attributes = map[string]any{
				"etag":         obj.ETag,
				"contentType":  obj.ContentType,
				"lastModified": obj.LastModified,
			}
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 && !sawMarker {
		ok, err := f.Exists(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotExist, storage.Clean(p))
		}
	}
	storage.SortEntries(entries, sortBy)
	return entries, nil
}

func (f *FS) putMarker(ctx context.Context, p string, meta map[string]string) error {
	dir := f.dirKey(p)
	if dir == "" {
		return nil
	}
	_, err := f.api.PutObject(ctx, f.bucket, dir, bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType:  dirContentType,
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", dir, err)
	}
	return nil
}

func (f *FS) Mkdir(ctx context.Context, p string) error {
	return f.putMarker(ctx, p, nil)
}

// Chmod records mode on the directory marker. Object stores have no
// permission bits; readers of the bucket may honour the metadata.
func (f *FS) Chmod(ctx context.Context, p, mode string) error {
	if err := f.putMarker(ctx, p, map[string]string{modeMetaKey: mode}); err != nil {
		return fmt.Errorf("chmod %s: %w", storage.Clean(p), err)
	}
	f.logger.Debug("recorded mode on directory marker", "path", storage.Clean(p), "mode", mode)
	return nil
}

func (f *FS) Upload(ctx context.Context, localPath, remoteDir string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("upload %s: is a directory", localPath)
	}
	name := filepath.Base(localPath)
	remote := storage.Clean(remoteDir + "/" + name)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := f.api.FPutObject(ctx, f.bucket, f.key(remote), localPath, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}
	return remote, nil
}

func (f *FS) Delete(ctx context.Context, p string) error {
	removed := 0
	if ok, err := f.statExists(ctx, f.key(p)); err != nil {
		return err
	} else if ok {
		if err := f.api.RemoveObject(ctx, f.bucket, f.key(p), minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("delete %s: %w", p, err)
		}
		removed++
	}

	dir := f.dirKey(p)
	var keys []string
	for obj := range f.api.ListObjects(ctx, f.bucket, minio.ListObjectsOptions{Prefix: dir, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", p, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	for _, k := range keys {
		if err := f.api.RemoveObject(ctx, f.bucket, k, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
		removed++
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotExist, storage.Clean(p))
	}
	f.logger.Debug("deleted objects", "path", storage.Clean(p), "count", removed)
	return nil
}
