package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

// ErrNotExist is returned when a key does not exist in the provider.
var ErrNotExist = errors.New("file does not exist")

type FileInfo struct {
	Name         string
	Size         int64
	ContentType  string
	ModifiedTime time.Time
}

// StorageProvider defines the interface for different storage implementations.
// Keys are slash separated regardless of the backing store.
type StorageProvider interface {
	// Upload saves a file to storage and returns its key
	Upload(ctx context.Context, file io.Reader, filename string) (string, error)

	// NewWriter opens a streaming writer. The object becomes visible on Close.
	NewWriter(ctx context.Context, filename string, contentType string) (io.WriteCloser, error)

	// Open returns a reader for the file. Caller must close it.
	Open(ctx context.Context, filename string) (io.ReadCloser, error)

	// Stat returns the metadata of a single file
	Stat(ctx context.Context, filename string) (FileInfo, error)

	// Delete removes a file from storage, missing files are not an error
	Delete(ctx context.Context, filename string) error

	// DeletePrefix removes every file below prefix
	DeletePrefix(ctx context.Context, prefix string) error

	// GetURL returns a URL for accessing the file
	GetURL(ctx context.Context, filename string) (string, time.Duration, error)

	// Stream serves the file directly to an http.ResponseWriter
	Stream(ctx context.Context, filename string, w http.ResponseWriter) error

	// Exists checks if a file exists in storage
	Exists(ctx context.Context, filename string) (bool, error)

	ListFiles(ctx context.Context, prefix string) ([]FileInfo, error)

	// Close cleans up any resources
	Close() error
}

// LocalPather is implemented by providers that keep files on the local disk.
type LocalPather interface {
	LocalPath(filename string) string
}

// StorageConfig holds configuration for storage providers
type StorageConfig struct {
	// Provider type ("local", "gcs", "s3" or "blob")
	Provider string `json:"provider"`

	// Local storage config
	LocalPath string `json:"local_path,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`

	// GCS config
	ProjectID  string `json:"project_id,omitempty"`
	BucketName string `json:"bucket_name,omitempty"`

	// S3 config
	S3Endpoint  string `json:"s3_endpoint,omitempty"`
	S3Region    string `json:"s3_region,omitempty"`
	S3Bucket    string `json:"s3_bucket,omitempty"`
	S3AccessKey string `json:"-"`
	S3SecretKey string `json:"-"`

	// Go CDK bucket URL, e.g. mem:// or file:///var/lib/reelhub
	BlobURL string `json:"blob_url,omitempty"`
}

// NewStorageProvider creates a storage provider based on configuration
func NewStorageProvider(ctx context.Context, cfg StorageConfig) (StorageProvider, error) {
	switch cfg.Provider {
	case "local":
		return NewLocalStorage(cfg.LocalPath, cfg.BaseURL)
	case "gcs":
		return NewGCSStorage(ctx, cfg.ProjectID, cfg.BucketName, cfg.BaseURL)
	case "s3":
		return NewS3Storage(ctx, S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			BaseURL:   cfg.BaseURL,
		})
	case "blob":
		return NewBlobStorage(ctx, cfg.BlobURL, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// CleanKey normalises a key and rejects keys escaping the storage root.
func CleanKey(key string) (string, error) {
	slashed := strings.ReplaceAll(key, "\\", "/")
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid storage key %q", key)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if cleaned == "" {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return cleaned, nil
}

// fileURL builds the public URL served by the /f/ route
func fileURL(baseURL, filename string) string {
	return fmt.Sprintf("%s/f/%s", strings.TrimSuffix(baseURL, "/"), filename)
}
