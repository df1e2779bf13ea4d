package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"reelhub-go/internal/models"
	"reelhub-go/internal/uploader"
)

const (
	DefaultConcurrency = 4
	maxAttempts        = 3
)

// Error is a non 2xx response from the upload API
type Error struct {
	Status int
	uploader.APIError
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to the chunked upload API
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, &apiErr.APIError); err != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	envelope := uploader.APIResponse{Data: out}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = b
	}
	return c.do(ctx, method, path, "application/json", body, out)
}

func (c *Client) Initialize(ctx context.Context, req uploader.InitializeRequest) (*models.InitUploadResponse, error) {
	var resp models.InitUploadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/uploads", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Status(ctx context.Context, uploadID string) (*models.UploadStatus, error) {
	var status models.UploadStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/uploads/"+uploadID, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) PutChunk(ctx context.Context, uploadID string, index int, payload []byte) (*models.ChunkStoreResult, error) {
	var result models.ChunkStoreResult
	path := "/api/uploads/" + uploadID + "/chunks/" + strconv.Itoa(index)
	if err := c.do(ctx, http.MethodPut, path, "application/octet-stream", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Complete(ctx context.Context, uploadID string, req uploader.CompleteRequest) (*uploader.CompleteResponse, error) {
	var resp uploader.CompleteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/uploads/"+uploadID+"/complete", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Cancel(ctx context.Context, uploadID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/uploads/"+uploadID, nil, nil)
}

// UploadOptions control UploadFile. Zero values pick defaults.
type UploadOptions struct {
	ResumeID    string // continue an existing session, only missing chunks are sent
	ChunkSize   int64
	Concurrency int
	MimeType    string
	Complete    uploader.CompleteRequest
	Progress    func(sent, total int64)
}

// UploadFile sends path in parallel chunks and completes the session.
func (c *Client) UploadFile(ctx context.Context, path string, opts UploadOptions) (*uploader.CompleteResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	uploadID, pending, chunkSize, err := c.prepare(ctx, f, info, opts)
	if err != nil {
		return nil, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	total := info.Size()
	var sent atomic.Int64
	sent.Store(total - pendingBytes(pending, chunkSize, total))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, index := range pending {
		index := index
		g.Go(func() error {
			offset := int64(index) * chunkSize
			payload := make([]byte, min(chunkSize, total-offset))
			if _, err := f.ReadAt(payload, offset); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading chunk %d: %w", index, err)
			}
			if err := c.putWithRetry(gctx, uploadID, index, payload); err != nil {
				return fmt.Errorf("uploading chunk %d: %w", index, err)
			}
			if opts.Progress != nil {
				opts.Progress(sent.Add(int64(len(payload))), total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("upload %s: %w", uploadID, err)
	}

	return c.Complete(ctx, uploadID, opts.Complete)
}

// prepare starts a new session or looks up the missing chunks of ResumeID
func (c *Client) prepare(ctx context.Context, f *os.File, info os.FileInfo, opts UploadOptions) (string, []int, int64, error) {
	if opts.ResumeID != "" {
		status, err := c.Status(ctx, opts.ResumeID)
		if err != nil {
			return "", nil, 0, err
		}
		if status.TotalSize != info.Size() {
			return "", nil, 0, fmt.Errorf("session %s expects %d bytes, file has %d", opts.ResumeID, status.TotalSize, info.Size())
		}
		return status.UploadID, status.MissingChunks, status.ChunkSize, nil
	}

	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType, _ = detectMimeType(f, info.Name())
	}

	resp, err := c.Initialize(ctx, uploader.InitializeRequest{
		FileName:  info.Name(),
		TotalSize: info.Size(),
		MimeType:  mimeType,
		ChunkSize: opts.ChunkSize,
	})
	if err != nil {
		return "", nil, 0, err
	}

	pending := make([]int, resp.TotalChunks)
	for i := range pending {
		pending[i] = i
	}
	return resp.UploadID, pending, resp.ChunkSize, nil
}

// putWithRetry retries transport failures and 5xx responses
func (c *Client) putWithRetry(ctx context.Context, uploadID string, index int, payload []byte) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if _, err = c.PutChunk(ctx, uploadID, index, payload); err == nil {
			return nil
		}
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return err
}

func pendingBytes(pending []int, chunkSize, total int64) int64 {
	var n int64
	for _, index := range pending {
		offset := int64(index) * chunkSize
		n += min(chunkSize, total-offset)
	}
	return n
}

// detectMimeType prefers the extension and falls back to content sniffing
func detectMimeType(f *os.File, name string) (string, error) {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t, nil
	}
	head := make([]byte, 512)
	n, err := f.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "application/octet-stream", err
	}
	return http.DetectContentType(head[:n]), nil
}
