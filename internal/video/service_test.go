package video

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	userctx "reelhub-go/internal/context"
	"reelhub-go/internal/media"
	"reelhub-go/internal/models"
	"reelhub-go/internal/storage"
)

type stubProcessor struct {
	result *media.Result
	err    error
}

func (p stubProcessor) Process(ctx context.Context, file *models.AssembledFile) (*media.Result, error) {
	return p.result, p.err
}

func setupService(t *testing.T, processor media.Processor) (*Service, storage.StorageProvider) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir(), "http://localhost")
	require.NoError(t, err)
	return NewService(NewMemoryRepository(), store, processor), store
}

func assembled(t *testing.T, store storage.StorageProvider) *models.AssembledFile {
	t.Helper()
	_, err := store.Upload(context.Background(), bytes.NewReader([]byte("video")), "videos/01HX.mp4")
	require.NoError(t, err)
	return &models.AssembledFile{
		FileName: "01HX.mp4",
		FilePath: "videos/01HX.mp4",
		FileURL:  "http://localhost/f/videos/01HX.mp4",
		FileSize: 5,
		MimeType: "video/mp4",
	}
}

func TestPublishProcessingOutcomes(t *testing.T) {
	duration := 12.5
	thumb := "videos/01HX.jpg"

	tests := []struct {
		name       string
		processor  media.Processor
		wantStatus string
		wantThumb  bool
	}{
		{"Processed", stubProcessor{result: &media.Result{DurationSeconds: &duration, ThumbnailPath: &thumb}}, models.ProcessingStatusProcessed, true},
		{"Unsupported", media.Noop{}, models.ProcessingStatusSkipped, false},
		{"Failure degrades", stubProcessor{err: errors.New("ffmpeg exploded")}, models.ProcessingStatusUnprocessed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := setupService(t, tt.processor)
			file := assembled(t, store)

			v, err := svc.Publish(context.Background(), file, "My clip")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, v.ProcessingStatus)
			assert.Equal(t, "My clip", v.Title)
			assert.Equal(t, file.FileURL, v.FileURL)
			assert.Equal(t, tt.wantThumb, v.ThumbnailPath != nil)

			// The assembled file is never touched by processing failures
			ok, err := store.Exists(context.Background(), file.FilePath)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestPublishDefaultsTitle(t *testing.T) {
	svc, store := setupService(t, nil)
	v, err := svc.Publish(context.Background(), assembled(t, store), "  ")
	require.NoError(t, err)
	assert.Equal(t, "01HX.mp4", v.Title)
}

func TestDeleteRemovesRecordAndFile(t *testing.T) {
	svc, store := setupService(t, nil)
	ctx := context.Background()

	v, err := svc.Publish(ctx, assembled(t, store), "clip")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, v.ID))

	_, err = svc.Get(ctx, v.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := store.Exists(ctx, v.FilePath)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, svc.Delete(ctx, v.ID), ErrNotFound)
}

func TestOwnerScoping(t *testing.T) {
	svc, store := setupService(t, nil)
	owner := userctx.WithUser(context.Background(), &userctx.UserInfo{ID: uuid.New(), Username: "owner"})
	other := userctx.WithUser(context.Background(), &userctx.UserInfo{ID: uuid.New(), Username: "other"})

	v, err := svc.Publish(owner, assembled(t, store), "mine")
	require.NoError(t, err)
	require.NotNil(t, v.OwnerID)

	_, err = svc.Get(other, v.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(other, v.ID), ErrUnauthorized)

	got, err := svc.Get(owner, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
}

func TestHandlers(t *testing.T) {
	svc, store := setupService(t, nil)
	v, err := svc.Publish(context.Background(), assembled(t, store), "clip")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/api/videos", NewHandler(svc).Routes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos/"+v.ID.String(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), v.FileURL)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos/not-a-uuid", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/videos/"+v.ID.String(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos/"+v.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
