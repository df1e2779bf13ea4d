package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	BaseURL   string
}

// S3StorageProvider stores objects in AWS S3 or any S3 compatible service
// such as MinIO.
type S3StorageProvider struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

func NewS3Storage(ctx context.Context, opts S3Options) (*S3StorageProvider, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// MinIO and most compatible services need path style addressing
			o.UsePathStyle = true
		}
	})

	log.Debug().
		Str("bucket", opts.Bucket).
		Str("endpoint", opts.Endpoint).
		Msg("s3 storage configured")

	return &S3StorageProvider{
		client:  client,
		bucket:  opts.Bucket,
		baseURL: opts.BaseURL,
	}, nil
}

func (s *S3StorageProvider) Upload(ctx context.Context, file io.Reader, filename string) (string, error) {
	w, err := s.NewWriter(ctx, filename, "")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(w, file); err != nil {
		w.(*s3Writer).abort()
		return "", fmt.Errorf("failed to buffer upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return filename, nil
}

// s3Writer spools to a temporary file so PutObject gets a seekable body with
// a known length.
type s3Writer struct {
	ctx         context.Context
	provider    *S3StorageProvider
	key         string
	contentType string
	tmp         *os.File
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

func (w *s3Writer) Close() error {
	defer w.abort()

	size, err := w.tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("failed to size upload: %w", err)
	}
	if _, err := w.tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind upload: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(w.provider.bucket),
		Key:           aws.String(w.key),
		Body:          w.tmp,
		ContentLength: aws.Int64(size),
	}
	if w.contentType != "" {
		input.ContentType = aws.String(w.contentType)
	}
	if _, err := w.provider.client.PutObject(w.ctx, input); err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

func (w *s3Writer) abort() {
	_ = w.tmp.Close()
	_ = os.Remove(w.tmp.Name())
}

func (s *S3StorageProvider) NewWriter(ctx context.Context, filename string, contentType string) (io.WriteCloser, error) {
	tmp, err := os.CreateTemp("", "reelhub-s3-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	return &s3Writer{
		ctx:         ctx,
		provider:    s,
		key:         filename,
		contentType: contentType,
		tmp:         tmp,
	}, nil
}

func (s *S3StorageProvider) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(filename),
	})
	if isS3NotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return out.Body, nil
}

func (s *S3StorageProvider) Stat(ctx context.Context, filename string) (FileInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(filename),
	})
	if isS3NotFound(err) {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotExist, filename)
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to get object metadata: %w", err)
	}
	return FileInfo{
		Name:         filename,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		ModifiedTime: aws.ToTime(out.LastModified),
	}, nil
}

func (s *S3StorageProvider) Stream(ctx context.Context, filename string, w http.ResponseWriter) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(filename),
	})
	if isS3NotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotExist, filename)
	}
	if err != nil {
		return fmt.Errorf("failed to get object: %w", err)
	}
	defer out.Body.Close()

	if ct := aws.ToString(out.ContentType); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if out.ContentLength != nil {
		w.Header().Set("Content-Length", strconv.FormatInt(*out.ContentLength, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("failed to stream file: %w", err)
	}
	return nil
}

func (s *S3StorageProvider) Exists(ctx context.Context, filename string) (bool, error) {
	_, err := s.Stat(ctx, filename)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Delete is idempotent, S3 does not report missing keys on DeleteObject.
func (s *S3StorageProvider) Delete(ctx context.Context, filename string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(filename),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (s *S3StorageProvider) DeletePrefix(ctx context.Context, prefix string) error {
	files, err := s.ListFiles(ctx, prefix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.Delete(ctx, f.Name); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3StorageProvider) GetURL(ctx context.Context, filename string) (string, time.Duration, error) {
	return fileURL(s.baseURL, filename), 0, nil
}

func (s *S3StorageProvider) ListFiles(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			files = append(files, FileInfo{
				Name:         aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ModifiedTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	return files, nil
}

func (s *S3StorageProvider) Close() error {
	return nil
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
