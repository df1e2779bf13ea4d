package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	// Drivers
	_ "gocloud.dev/blob/fileblob" // file:// URLs
	_ "gocloud.dev/blob/memblob"  // mem:// URLs
)

// BlobStorageProvider adapts any Go CDK bucket. mem:// is handy for tests,
// file:// for single node deployments without the local provider semantics.
type BlobStorageProvider struct {
	bucket  *blob.Bucket
	baseURL string
}

func NewBlobStorage(ctx context.Context, bucketURL, baseURL string) (*BlobStorageProvider, error) {
	if bucketURL == "" {
		return nil, fmt.Errorf("blob bucket url is required")
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	return &BlobStorageProvider{
		bucket:  bucket,
		baseURL: baseURL,
	}, nil
}

func (b *BlobStorageProvider) Upload(ctx context.Context, file io.Reader, filename string) (string, error) {
	w, err := b.bucket.NewWriter(ctx, filename, nil)
	if err != nil {
		return "", blobErr(err, filename)
	}
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", blobErr(err, filename)
	}
	return filename, nil
}

func (b *BlobStorageProvider) NewWriter(ctx context.Context, filename string, contentType string) (io.WriteCloser, error) {
	var opts *blob.WriterOptions
	if contentType != "" {
		opts = &blob.WriterOptions{ContentType: contentType}
	}
	w, err := b.bucket.NewWriter(ctx, filename, opts)
	if err != nil {
		return nil, blobErr(err, filename)
	}
	return w, nil
}

func (b *BlobStorageProvider) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	r, err := b.bucket.NewReader(ctx, filename, nil)
	if err != nil {
		return nil, blobErr(err, filename)
	}
	return r, nil
}

func (b *BlobStorageProvider) Stat(ctx context.Context, filename string) (FileInfo, error) {
	attrs, err := b.bucket.Attributes(ctx, filename)
	if err != nil {
		return FileInfo{}, blobErr(err, filename)
	}
	return FileInfo{
		Name:         filename,
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		ModifiedTime: attrs.ModTime,
	}, nil
}

func (b *BlobStorageProvider) Stream(ctx context.Context, filename string, w http.ResponseWriter) error {
	r, err := b.bucket.NewReader(ctx, filename, nil)
	if err != nil {
		return blobErr(err, filename)
	}
	defer r.Close()

	w.Header().Set("Content-Type", r.ContentType())
	w.Header().Set("Content-Length", strconv.FormatInt(r.Size(), 10))
	w.Header().Set("Cache-Control", "public, max-age=86400")

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("failed to stream file: %w", err)
	}
	return nil
}

func (b *BlobStorageProvider) Exists(ctx context.Context, filename string) (bool, error) {
	ok, err := b.bucket.Exists(ctx, filename)
	if err != nil {
		return false, fmt.Errorf("error checking object existence: %w", err)
	}
	return ok, nil
}

func (b *BlobStorageProvider) Delete(ctx context.Context, filename string) error {
	if err := b.bucket.Delete(ctx, filename); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (b *BlobStorageProvider) DeletePrefix(ctx context.Context, prefix string) error {
	files, err := b.ListFiles(ctx, prefix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := b.Delete(ctx, f.Name); err != nil {
			return err
		}
	}
	return nil
}

func (b *BlobStorageProvider) GetURL(ctx context.Context, filename string) (string, time.Duration, error) {
	return fileURL(b.baseURL, filename), 0, nil
}

func (b *BlobStorageProvider) ListFiles(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo
	iter := b.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error listing objects: %w", err)
		}
		if obj.IsDir {
			continue
		}
		files = append(files, FileInfo{
			Name:         obj.Key,
			Size:         obj.Size,
			ModifiedTime: obj.ModTime,
		})
	}
	return files, nil
}

func (b *BlobStorageProvider) Close() error {
	return b.bucket.Close()
}

func blobErr(err error, key string) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	return fmt.Errorf("blob %s: %w", key, err)
}
