package video

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	userctx "reelhub-go/internal/context"
	"reelhub-go/internal/media"
	"reelhub-go/internal/models"
	"reelhub-go/internal/storage"
)

var ErrUnauthorized = errors.New("unauthorized")

type Service struct {
	repo      Repository
	store     storage.StorageProvider
	processor media.Processor
	now       func() time.Time
}

func NewService(repo Repository, store storage.StorageProvider, processor media.Processor) *Service {
	if processor == nil {
		processor = media.Noop{}
	}
	return &Service{
		repo:      repo,
		store:     store,
		processor: processor,
		now:       time.Now,
	}
}

// Publish creates a video record for an assembled upload. Media processing
// failures downgrade the record to unprocessed instead of failing.
func (s *Service) Publish(ctx context.Context, file *models.AssembledFile, title string) (*models.Video, error) {
	if file == nil {
		return nil, fmt.Errorf("no assembled file")
	}
	if strings.TrimSpace(title) == "" {
		title = file.FileName
	}

	v := &models.Video{
		ID:               uuid.New(),
		OwnerID:          userctx.OwnerID(ctx),
		Title:            title,
		FileName:         file.FileName,
		FilePath:         file.FilePath,
		FileURL:          file.FileURL,
		FileSize:         file.FileSize,
		MimeType:         file.MimeType,
		ProcessingStatus: models.ProcessingStatusProcessed,
		CreatedAt:        s.now().UTC(),
	}

	result, err := s.processor.Process(ctx, file)
	switch {
	case errors.Is(err, media.ErrUnsupported):
		v.ProcessingStatus = models.ProcessingStatusSkipped
	case err != nil:
		log.Warn().
			Err(err).
			Str("file_path", file.FilePath).
			Msg("media processing failed, publishing without it")
		v.ProcessingStatus = models.ProcessingStatusUnprocessed
	case result != nil:
		v.DurationSeconds = result.DurationSeconds
		v.ThumbnailPath = result.ThumbnailPath
	}

	if err := s.repo.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("creating video record: %w", err)
	}

	log.Info().
		Str("video_id", v.ID.String()).
		Str("file_path", v.FilePath).
		Str("processing_status", v.ProcessingStatus).
		Msg("video published")

	return v, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(ctx, v) {
		return nil, ErrNotFound
	}
	return v, nil
}

// Delete removes the record and then the assembled file and thumbnail
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !canAccess(ctx, v) {
		return ErrUnauthorized
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting video record: %w", err)
	}

	if err := s.store.Delete(ctx, v.FilePath); err != nil {
		// Log but don't fail if the file is already gone or unreachable
		log.Error().
			Err(err).
			Str("file_path", v.FilePath).
			Msg("error deleting video file")
	}
	if v.ThumbnailPath != nil {
		if err := s.store.Delete(ctx, *v.ThumbnailPath); err != nil {
			log.Error().
				Err(err).
				Str("thumbnail_path", *v.ThumbnailPath).
				Msg("error deleting thumbnail")
		}
	}
	return nil
}

func canAccess(ctx context.Context, v *models.Video) bool {
	if v.OwnerID == nil {
		return true
	}
	user := userctx.GetUserFromContext(ctx)
	return user != nil && user.ID == *v.OwnerID
}
