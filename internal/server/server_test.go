package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelhub-go/internal/auth"
	"reelhub-go/internal/config"
	"reelhub-go/internal/models"
	"reelhub-go/internal/storage"
	"reelhub-go/internal/uploader"
)

const testSecret = "test-secret"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:    8080,
		Secret:  testSecret,
		Env:     "development",
		BaseURL: "http://localhost:8080",
		Upload: config.UploadConfig{
			TempDir:          t.TempDir(),
			MaxFileSize:      uploader.DefaultMaxFileSize,
			ChunkSize:        uploader.DefaultChunkSize,
			MaxChunkBody:     uploader.DefaultMaxChunkBody,
			SessionTTL:       uploader.DefaultSessionTTL,
			SweepInterval:    time.Hour,
			OrphanGrace:      uploader.DefaultOrphanGrace,
			AllowedMimeTypes: uploader.DefaultAllowedMimeTypes,
			StrictChunks:     true,
			Destination:      uploader.DefaultDestination,
			SessionStore:     "memory",
		},
		Storage: storage.StorageConfig{
			Provider:  "local",
			LocalPath: t.TempDir(),
			BaseURL:   "http://localhost:8080",
		},
		MediaProcessor: "none",
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}

	s, err := NewServer(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	srv := httptest.NewServer(s.RegisterRoutes())
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.NewIssuer(testSecret).GenerateToken(uuid.MustParse(userID), "tester", time.Hour)
	require.NoError(t, err)
	return tok
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c *client) do(method, path string, body []byte) (*http.Response, []byte) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(body))
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, b
}

func (c *client) data(method, path string, body []byte, wantStatus int, v interface{}) {
	c.t.Helper()
	resp, b := c.do(method, path, body)
	require.Equal(c.t, wantStatus, resp.StatusCode, string(b))
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(c.t, json.Unmarshal(b, &envelope))
	if v != nil {
		require.NoError(c.t, json.Unmarshal(envelope.Data, v))
	}
}

func TestUploadLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	c := &client{t: t, base: srv.URL, token: token(t, uuid.NewString())}

	data := make([]byte, 2500)
	for i := range data {
		data[i] = byte(i * 7)
	}

	var init models.InitUploadResponse
	c.data(http.MethodPost, "/api/uploads",
		[]byte(`{"file_name":"trip.mov","file_size":2500,"mime_type":"video/quicktime","chunk_size":1000}`),
		http.StatusCreated, &init)
	require.Equal(t, 3, init.TotalChunks)

	for _, i := range []int{1, 2, 0} {
		end := min((i+1)*1000, len(data))
		c.data(http.MethodPut, "/api/uploads/"+init.UploadID+"/chunks/"+strconv.Itoa(i), data[i*1000:end], http.StatusOK, nil)
	}

	var status models.UploadStatus
	c.data(http.MethodGet, "/api/uploads/"+init.UploadID, nil, http.StatusOK, &status)
	assert.True(t, status.IsComplete)
	assert.Equal(t, 3, status.UploadedCount)

	var complete uploader.CompleteResponse
	c.data(http.MethodPost, "/api/uploads/"+init.UploadID+"/complete",
		[]byte(`{"publish":true,"title":"Road trip"}`), http.StatusOK, &complete)
	require.NotNil(t, complete.File)
	require.NotNil(t, complete.Video)
	assert.Equal(t, int64(2500), complete.File.FileSize)
	assert.True(t, strings.HasPrefix(complete.File.FilePath, "videos/"))
	assert.True(t, strings.HasSuffix(complete.File.FileName, ".mov"))
	assert.Equal(t, models.ProcessingStatusSkipped, complete.Video.ProcessingStatus)

	resp, body := c.do(http.MethodGet, "/f/"+complete.File.FilePath, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data, body)

	var video models.Video
	c.data(http.MethodGet, "/api/videos/"+complete.Video.ID.String(), nil, http.StatusOK, &video)
	assert.Equal(t, "Road trip", video.Title)

	// Another user cannot see the video
	other := &client{t: t, base: srv.URL, token: token(t, uuid.NewString())}
	resp, _ = other.do(http.MethodGet, "/api/videos/"+complete.Video.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = c.do(http.MethodGet, "/api/uploads/"+init.UploadID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionsAreScopedToTheirOwner(t *testing.T) {
	srv := newTestServer(t, nil)
	owner := &client{t: t, base: srv.URL, token: token(t, uuid.NewString())}
	other := &client{t: t, base: srv.URL, token: token(t, uuid.NewString())}
	anonymous := &client{t: t, base: srv.URL}

	var init models.InitUploadResponse
	owner.data(http.MethodPost, "/api/uploads",
		[]byte(`{"file_name":"a.mp4","file_size":10,"mime_type":"video/mp4"}`), http.StatusCreated, &init)

	for _, c := range []*client{other, anonymous} {
		resp, _ := c.do(http.MethodGet, "/api/uploads/"+init.UploadID, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, _ = c.do(http.MethodPut, "/api/uploads/"+init.UploadID+"/chunks/0", make([]byte, 10))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		// Cancel by someone else succeeds without touching the session
		resp, _ = c.do(http.MethodDelete, "/api/uploads/"+init.UploadID, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	owner.data(http.MethodGet, "/api/uploads/"+init.UploadID, nil, http.StatusOK, nil)
}

func TestAuthentication(t *testing.T) {
	initBody := []byte(`{"file_name":"a.mp4","file_size":10,"mime_type":"video/mp4"}`)

	t.Run("Anonymous uploads when auth is optional", func(t *testing.T) {
		srv := newTestServer(t, nil)
		c := &client{t: t, base: srv.URL}
		c.data(http.MethodPost, "/api/uploads", initBody, http.StatusCreated, nil)
	})

	t.Run("Missing token when auth is required", func(t *testing.T) {
		srv := newTestServer(t, func(cfg *config.Config) { cfg.AuthRequired = true })
		c := &client{t: t, base: srv.URL}
		resp, body := c.do(http.MethodPost, "/api/uploads", initBody)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, string(body), uploader.ErrCodeUnauthorized)
	})

	t.Run("Valid token when auth is required", func(t *testing.T) {
		srv := newTestServer(t, func(cfg *config.Config) { cfg.AuthRequired = true })
		c := &client{t: t, base: srv.URL, token: token(t, uuid.NewString())}
		c.data(http.MethodPost, "/api/uploads", initBody, http.StatusCreated, nil)
	})

	t.Run("Invalid token is always rejected", func(t *testing.T) {
		srv := newTestServer(t, nil)
		c := &client{t: t, base: srv.URL, token: "not-a-jwt"}
		resp, _ := c.do(http.MethodPost, "/api/uploads", initBody)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Assembled files are public", func(t *testing.T) {
		srv := newTestServer(t, func(cfg *config.Config) { cfg.AuthRequired = true })
		c := &client{t: t, base: srv.URL}
		resp, _ := c.do(http.MethodGet, "/f/videos/missing.mp4", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) { cfg.RateLimitPerMinute = 2 })
	c := &client{t: t, base: srv.URL}

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, _ := c.do(http.MethodGet, "/api/uploads/"+uuid.NewString(), nil)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}, codes)
}

func TestOperationalEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	c := &client{t: t, base: srv.URL}

	var health map[string]string
	c.data(http.MethodGet, "/health", nil, http.StatusOK, &health)
	assert.Equal(t, "up", health["status"])

	c.data(http.MethodPost, "/api/uploads",
		[]byte(`{"file_name":"a.mp4","file_size":10,"mime_type":"video/mp4"}`), http.StatusCreated, nil)

	resp, body := c.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "upload_sessions_created_total 1")
	assert.Contains(t, string(body), "http_requests_total")
}

func TestNewServerRejectsPostgresWithoutDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.SessionStore = "postgres"

	_, err := NewServer(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewServerRejectsSharedUploadDirs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.LocalPath = cfg.Upload.TempDir

	_, err := NewServer(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "must not overlap")
}
