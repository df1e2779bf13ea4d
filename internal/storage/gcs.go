package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSStorageProvider struct {
	client     *storage.Client
	bucket     *storage.BucketHandle
	bucketName string
	baseURL    string
}

func NewGCSStorage(ctx context.Context, projectID, bucketName, baseURL string) (*GCSStorageProvider, error) {
	var client *storage.Client
	var err error

	if emulatorHost := os.Getenv("STORAGE_EMULATOR_HOST"); emulatorHost != "" {
		log.Debug().
			Str("emulator_host", emulatorHost).
			Msg("using GCS emulator")
		client, err = storage.NewClient(
			ctx,
			option.WithEndpoint(fmt.Sprintf("http://%s", emulatorHost)),
			option.WithoutAuthentication(),
		)
	} else if creds := os.Getenv("GOOGLE_CLOUD_CREDENTIALS"); creds != "" {
		decodedCreds, decodeErr := base64.StdEncoding.DecodeString(creds)
		if decodeErr != nil {
			return nil, fmt.Errorf("invalid base64 credentials: %w", decodeErr)
		}
		client, err = storage.NewClient(ctx, option.WithCredentialsJSON(decodedCreds))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	bucket := client.Bucket(bucketName)

	_, err = bucket.Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		log.Info().
			Str("bucket", bucketName).
			Msg("bucket does not exist, creating...")
		if err := bucket.Create(ctx, projectID, &storage.BucketAttrs{
			Location: "US-CENTRAL1",
		}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}

	return &GCSStorageProvider{
		client:     client,
		bucket:     bucket,
		bucketName: bucketName,
		baseURL:    baseURL,
	}, nil
}

func (g *GCSStorageProvider) Upload(ctx context.Context, file io.Reader, filename string) (string, error) {
	writer := g.bucket.Object(filename).NewWriter(ctx)

	if _, err := io.Copy(writer, file); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to copy file to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}

	return filename, nil
}

// NewWriter streams straight into a resumable GCS upload. The object is
// committed when the writer is closed.
func (g *GCSStorageProvider) NewWriter(ctx context.Context, filename string, contentType string) (io.WriteCloser, error) {
	writer := g.bucket.Object(filename).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	return writer, nil
}

func (g *GCSStorageProvider) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	reader, err := g.bucket.Object(filename).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	return reader, nil
}

func (g *GCSStorageProvider) Stat(ctx context.Context, filename string) (FileInfo, error) {
	attrs, err := g.bucket.Object(filename).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotExist, filename)
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to get object attributes: %w", err)
	}
	return FileInfo{
		Name:         attrs.Name,
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		ModifiedTime: attrs.Updated,
	}, nil
}

func (g *GCSStorageProvider) Stream(ctx context.Context, filename string, w http.ResponseWriter) error {
	obj := g.bucket.Object(filename)
	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", ErrNotExist, filename)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("filename", filename).
			Msg("failed to get object attributes")
		return fmt.Errorf("failed to get object attributes: %w", err)
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Close()

	w.Header().Set("Content-Type", attrs.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(attrs.Size, 10))
	if attrs.CacheControl != "" {
		w.Header().Set("Cache-Control", attrs.CacheControl)
	}

	bytesWritten, err := io.Copy(w, reader)
	if err != nil {
		log.Error().
			Err(err).
			Str("filename", filename).
			Int64("bytes_written", bytesWritten).
			Msg("failed to stream file")
		return fmt.Errorf("failed to stream file: %w", err)
	}

	return nil
}

func (g *GCSStorageProvider) Exists(ctx context.Context, filename string) (bool, error) {
	_, err := g.bucket.Object(filename).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("error checking object existence: %w", err)
}

func (g *GCSStorageProvider) Delete(ctx context.Context, filename string) error {
	err := g.bucket.Object(filename).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (g *GCSStorageProvider) DeletePrefix(ctx context.Context, prefix string) error {
	files, err := g.ListFiles(ctx, prefix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := g.Delete(ctx, f.Name); err != nil {
			return err
		}
	}
	return nil
}

func (g *GCSStorageProvider) GetURL(ctx context.Context, filename string) (string, time.Duration, error) {
	// Files are served through the /f/ route so the bucket can stay private
	if _, err := g.bucket.Object(filename).Attrs(ctx); err != nil {
		return "", 0, fmt.Errorf("failed to get object attributes: %w", err)
	}
	return fileURL(g.baseURL, filename), 0, nil
}

func (g *GCSStorageProvider) ListFiles(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo
	it := g.bucket.Objects(ctx, &storage.Query{
		Prefix: prefix,
	})

	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			log.Error().
				Err(err).
				Str("prefix", prefix).
				Msg("error iterating objects")
			return nil, fmt.Errorf("error iterating objects: %w", err)
		}
		files = append(files, FileInfo{
			Name:         attrs.Name,
			Size:         attrs.Size,
			ContentType:  attrs.ContentType,
			ModifiedTime: attrs.Updated,
		})
	}

	log.Debug().
		Str("prefix", prefix).
		Int("count", len(files)).
		Msg("files listed")

	return files, nil
}

func (g *GCSStorageProvider) Close() error {
	return g.client.Close()
}
