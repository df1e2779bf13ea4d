package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"reelhub-go/internal/event"
	"reelhub-go/internal/models"
	"reelhub-go/internal/storage"
	"reelhub-go/internal/telemetry"
	"reelhub-go/internal/validation"
)

// Complete concatenates every chunk in ascending index order into a freshly
// named file below destDir and verifies its size against the declared total.
// On success the session and its chunks are removed. On a size mismatch the
// output is deleted and the session stays available for another attempt.
func (s *Service) Complete(ctx context.Context, uploadID, destDir string) (*models.AssembledFile, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "uploader.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("upload.id", uploadID))

	session, err := s.lookup(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if !session.IsComplete() {
		s.metrics.Assembly("incomplete", 0, 0)
		return nil, &IncompleteUploadError{Missing: session.MissingChunks()}
	}

	dir, err := s.destinationDir(destDir)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Claim(ctx, uploadID); err != nil {
		return nil, err
	}

	start := time.Now()
	file, err := s.assemble(ctx, session, dir)
	if err != nil {
		if relErr := s.repo.Release(ctx, uploadID); relErr != nil && !errors.Is(relErr, ErrSessionNotFound) {
			log.Error().
				Err(relErr).
				Str("upload_id", uploadID).
				Msg("failed to release upload session")
		}
		var mismatch *SizeMismatchError
		if errors.As(err, &mismatch) {
			s.metrics.Assembly("size_mismatch", 0, 0)
		} else {
			s.metrics.Assembly("error", 0, 0)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.metrics.Assembly("success", file.FileSize, time.Since(start))

	if _, err := s.purge(ctx, uploadID); err != nil {
		// The assembled file is durable, leftover chunks are reclaimed by the orphan sweep
		log.Error().
			Err(err).
			Str("upload_id", uploadID).
			Msg("failed to clean up assembled session")
	}

	if err := s.events.PublishUploadCompleted(ctx, event.UploadCompleted{
		UploadID: uploadID,
		FileName: file.FileName,
		FilePath: file.FilePath,
		FileURL:  file.FileURL,
		FileSize: file.FileSize,
		MimeType: file.MimeType,
	}); err != nil {
		log.Warn().
			Err(err).
			Str("upload_id", uploadID).
			Msg("failed to publish completion event")
	}

	log.Info().
		Str("upload_id", uploadID).
		Str("file_path", file.FilePath).
		Str("size", humanize.IBytes(uint64(file.FileSize))).
		Dur("took", time.Since(start)).
		Msg("upload assembled")

	return file, nil
}

func (s *Service) assemble(ctx context.Context, session *models.UploadSession, dir string) (*models.AssembledFile, error) {
	fileName := ulid.Make().String() + strings.ToLower(filepath.Ext(session.FileName))
	key := path.Join(dir, fileName)

	w, err := s.dest.NewWriter(ctx, key, session.MimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: opening output: %v", ErrStorage, err)
	}

	written, err := s.copyChunks(ctx, w, session)
	if err != nil {
		_ = w.Close()
		_ = s.dest.Delete(ctx, key)
		return nil, err
	}
	if err := w.Close(); err != nil {
		_ = s.dest.Delete(ctx, key)
		return nil, fmt.Errorf("%w: closing output: %v", ErrStorage, err)
	}

	info, err := s.dest.Stat(ctx, key)
	if err != nil {
		_ = s.dest.Delete(ctx, key)
		return nil, fmt.Errorf("%w: verifying output: %v", ErrStorage, err)
	}
	if info.Size != session.TotalSize || written != session.TotalSize {
		_ = s.dest.Delete(ctx, key)
		log.Warn().
			Str("upload_id", session.UploadID).
			Int64("expected", session.TotalSize).
			Int64("actual", info.Size).
			Msg("assembled size mismatch")
		return nil, &SizeMismatchError{Expected: session.TotalSize, Actual: info.Size}
	}

	url, _, err := s.dest.GetURL(ctx, key)
	if err != nil {
		_ = s.dest.Delete(ctx, key)
		return nil, fmt.Errorf("%w: resolving url: %v", ErrStorage, err)
	}

	return &models.AssembledFile{
		FileName: fileName,
		FilePath: key,
		FileURL:  url,
		FileSize: info.Size,
		MimeType: session.MimeType,
	}, nil
}

// copyChunks appends artifacts 0..TotalChunks-1 to w in order
func (s *Service) copyChunks(ctx context.Context, w io.Writer, session *models.UploadSession) (int64, error) {
	var written int64
	for i := 0; i < session.TotalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		r, err := s.temp.Open(ctx, chunkKey(session.UploadID, i))
		if errors.Is(err, storage.ErrNotExist) {
			return written, fmt.Errorf("%w: chunk %d artifact missing", ErrStorage, i)
		}
		if err != nil {
			return written, fmt.Errorf("%w: opening chunk %d: %v", ErrStorage, i, err)
		}
		n, err := io.Copy(w, r)
		_ = r.Close()
		written += n
		if err != nil {
			return written, fmt.Errorf("%w: copying chunk %d: %v", ErrStorage, i, err)
		}
	}
	return written, nil
}

// destinationDir validates a caller supplied directory, empty selects the default
func (s *Service) destinationDir(dir string) (string, error) {
	if dir == "" {
		return s.opts.Destination, nil
	}
	if err := validation.ValidateDestDir(dir); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDestination, dir)
	}
	return strings.TrimSuffix(dir, "/"), nil
}
