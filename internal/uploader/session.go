package uploader

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	userctx "reelhub-go/internal/context"
	"reelhub-go/internal/models"
	"reelhub-go/internal/telemetry"
	"reelhub-go/internal/validation"
)

// InitializeRequest starts a chunked upload. ChunkSize is optional.
type InitializeRequest struct {
	FileName  string `json:"file_name" validate:"required,filename"`
	TotalSize int64  `json:"file_size" validate:"gt=0"`
	MimeType  string `json:"mime_type" validate:"required,videomime"`
	ChunkSize int64  `json:"chunk_size,omitempty" validate:"gte=0"`
}

// Initialize creates a new upload session
func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (*models.InitUploadResponse, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "uploader.Initialize")
	defer span.End()

	if err := validation.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, validation.Summary(err))
	}
	if req.TotalSize > s.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: file size %s exceeds maximum of %s",
			ErrValidation, humanize.IBytes(uint64(req.TotalSize)), humanize.IBytes(uint64(s.opts.MaxFileSize)))
	}
	if !s.mimeAllowed(req.MimeType) {
		return nil, fmt.Errorf("%w: content type %s is not allowed", ErrValidation, req.MimeType)
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 || chunkSize > s.opts.ChunkSize {
		chunkSize = s.opts.ChunkSize
	}
	totalChunks := int((req.TotalSize + chunkSize - 1) / chunkSize)

	now := s.now().UTC()
	session := &models.UploadSession{
		UploadID:       uuid.New().String(),
		OwnerID:        userctx.OwnerID(ctx),
		FileName:       req.FileName,
		MimeType:       req.MimeType,
		TotalSize:      req.TotalSize,
		ChunkSize:      chunkSize,
		TotalChunks:    totalChunks,
		ReceivedChunks: []int{},
		Status:         models.SessionStatusUploading,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.opts.SessionTTL),
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s.metrics.SessionCreated()

	span.SetAttributes(
		attribute.String("upload.id", session.UploadID),
		attribute.Int("upload.total_chunks", totalChunks),
	)
	log.Info().
		Str("upload_id", session.UploadID).
		Str("file_name", session.FileName).
		Str("size", humanize.IBytes(uint64(session.TotalSize))).
		Int("total_chunks", totalChunks).
		Msg("upload session initialized")

	return &models.InitUploadResponse{
		UploadID:    session.UploadID,
		TotalChunks: totalChunks,
		ChunkSize:   chunkSize,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func (s *Service) mimeAllowed(mimeType string) bool {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	for _, allowed := range s.opts.AllowedMimeTypes {
		if strings.EqualFold(mediaType, allowed) {
			return true
		}
	}
	return false
}

// GetStatus returns a snapshot of the session
func (s *Service) GetStatus(ctx context.Context, uploadID string) (*models.UploadStatus, error) {
	session, err := s.lookup(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	return &models.UploadStatus{
		UploadID:       session.UploadID,
		FileName:       session.FileName,
		MimeType:       session.MimeType,
		TotalSize:      session.TotalSize,
		ChunkSize:      session.ChunkSize,
		TotalChunks:    session.TotalChunks,
		UploadedChunks: session.ReceivedChunks,
		UploadedCount:  session.UploadedCount(),
		MissingChunks:  session.MissingChunks(),
		IsComplete:     session.IsComplete(),
		ExpiresAt:      session.ExpiresAt,
	}, nil
}

// Cancel deletes the session and its chunk artifacts. Unknown sessions are a
// no-op. Sessions owned by someone else are left alone.
func (s *Service) Cancel(ctx context.Context, uploadID string) error {
	ctx, span := telemetry.Tracer().Start(ctx, "uploader.Cancel")
	defer span.End()

	if _, err := uuid.Parse(uploadID); err != nil {
		return nil
	}

	session, err := s.repo.Get(ctx, uploadID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if session.OwnerID != nil {
		if user := userctx.GetUserFromContext(ctx); user == nil || user.ID != *session.OwnerID {
			return nil
		}
	}

	existed, err := s.purge(ctx, uploadID)
	if err != nil {
		return err
	}
	if existed {
		s.metrics.Swept("cancelled", 1)
		if err := s.events.PublishUploadCancelled(ctx, uploadID); err != nil {
			log.Warn().
				Err(err).
				Str("upload_id", uploadID).
				Msg("failed to publish cancel event")
		}
		log.Info().
			Str("upload_id", uploadID).
			Msg("upload session cancelled")
	}
	return nil
}

// purge removes metadata first so no operation can observe a session whose
// artifacts are already gone.
func (s *Service) purge(ctx context.Context, uploadID string) (bool, error) {
	existed, err := s.repo.Delete(ctx, uploadID)
	if err != nil {
		return false, err
	}
	if err := s.temp.DeletePrefix(ctx, namespace(uploadID)); err != nil {
		return existed, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return existed, nil
}

// SweepExpired removes every session whose expiry has passed and returns the
// number of sessions this call removed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "uploader.SweepExpired")
	defer span.End()

	ids, err := s.repo.ListExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("listing expired sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var cleaned atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			existed, err := s.purge(gctx, id)
			if err != nil {
				log.Error().
					Err(err).
					Str("upload_id", id).
					Msg("error removing expired session")
				return nil
			}
			if existed {
				cleaned.Add(1)
				if err := s.events.PublishUploadExpired(gctx, id); err != nil {
					log.Warn().
						Err(err).
						Str("upload_id", id).
						Msg("failed to publish expiry event")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(cleaned.Load()), err
	}

	n := int(cleaned.Load())
	s.metrics.Swept("expired", n)
	span.SetAttributes(attribute.Int("upload.swept", n))
	if n > 0 {
		log.Info().
			Int("count", n).
			Msg("removed expired upload sessions")
	}
	return n, nil
}

// SweepOrphans removes chunk namespaces that have no session metadata and
// have not been written to within the grace period. Only top-level
// directories named by an upload id are considered.
func (s *Service) SweepOrphans(ctx context.Context) (int, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "uploader.SweepOrphans")
	defer span.End()

	files, err := s.temp.ListFiles(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("listing temp storage: %w", err)
	}

	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing sessions: %w", err)
	}

	cutoff := s.now().Add(-s.opts.OrphanGrace)
	candidates := make(map[string]bool)
	for _, f := range files {
		ns, _, ok := strings.Cut(f.Name, "/")
		if !ok || ids[ns] {
			continue
		}
		if _, err := uuid.Parse(ns); err != nil {
			// Not a chunk namespace, the store may be shared with assembled files
			continue
		}
		if f.ModifiedTime.After(cutoff) {
			// Recently written, may belong to a session being created
			candidates[ns] = false
			continue
		}
		if _, seen := candidates[ns]; !seen {
			candidates[ns] = true
		}
	}

	var removed int
	for ns, stale := range candidates {
		if !stale {
			continue
		}
		if err := s.temp.DeletePrefix(ctx, namespace(ns)); err != nil {
			log.Error().
				Err(err).
				Str("namespace", ns).
				Msg("error deleting orphaned chunks")
			continue
		}
		removed++
	}

	s.metrics.Swept("orphaned", removed)
	if removed > 0 {
		log.Info().
			Int("count", removed).
			Msg("deleted orphaned chunk namespaces")
	}
	return removed, nil
}
