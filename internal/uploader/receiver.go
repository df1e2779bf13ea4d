package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"reelhub-go/internal/models"
	"reelhub-go/internal/telemetry"
)

// StoreChunk persists one chunk and adds its index to the received set.
// Storing an index that is already present returns the current status and
// leaves the existing artifact untouched. Concurrent stores of the same index
// within one process are serialized so the first writer wins.
func (s *Service) StoreChunk(ctx context.Context, uploadID string, index int, payload []byte) (*models.ChunkStoreResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "uploader.StoreChunk")
	defer span.End()
	span.SetAttributes(
		attribute.String("upload.id", uploadID),
		attribute.Int("upload.chunk_index", index),
		attribute.Int("upload.chunk_bytes", len(payload)),
	)

	session, err := s.lookup(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= session.TotalChunks {
		s.metrics.ChunkStored("rejected", len(payload))
		return nil, invalidIndexError(index, session.TotalChunks)
	}

	if session.HasChunk(index) {
		return s.duplicateChunk(session, index, len(payload)), nil
	}

	if err := s.checkChunkLength(session, index, len(payload)); err != nil {
		s.metrics.ChunkStored("rejected", len(payload))
		return nil, err
	}

	unlock := s.lockChunk(uploadID, index)
	defer unlock()

	// Another request may have stored the index while this one waited
	session, err = s.repo.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if session.HasChunk(index) {
		return s.duplicateChunk(session, index, len(payload)), nil
	}

	start := time.Now()
	if _, err := s.temp.Upload(ctx, bytes.NewReader(payload), chunkKey(uploadID, index)); err != nil {
		return nil, fmt.Errorf("%w: writing chunk %d: %v", ErrStorage, index, err)
	}
	s.metrics.ObserveStorage("chunk_write", start)

	added, count, err := s.repo.AddChunk(ctx, uploadID, index)
	if errors.Is(err, ErrSessionNotFound) {
		// Cancelled or swept while the artifact was being written. The
		// namespace is removed too so no empty directory outlives the session.
		_ = s.temp.DeletePrefix(ctx, namespace(uploadID))
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	if added {
		s.metrics.ChunkStored("stored", len(payload))
	} else {
		s.metrics.ChunkStored("duplicate", len(payload))
	}

	log.Debug().
		Str("upload_id", uploadID).
		Int("chunk_index", index).
		Int("uploaded", count).
		Int("total_chunks", session.TotalChunks).
		Msg("chunk stored")

	return chunkResult(index, count, session.TotalChunks), nil
}

func (s *Service) duplicateChunk(session *models.UploadSession, index int, n int) *models.ChunkStoreResult {
	s.metrics.ChunkStored("duplicate", n)
	log.Debug().
		Str("upload_id", session.UploadID).
		Int("chunk_index", index).
		Msg("chunk already received")
	return chunkResult(index, session.UploadedCount(), session.TotalChunks)
}

// lockChunk takes the stripe lock guarding chunkKey(uploadID, index)
func (s *Service) lockChunk(uploadID string, index int) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(chunkKey(uploadID, index)))
	mu := &s.chunkLocks[h.Sum32()%uint32(len(s.chunkLocks))]
	mu.Lock()
	return mu.Unlock
}

// checkChunkLength enforces the per-chunk length bound. Without strict mode
// only empty payloads are rejected and integrity is left to assembly.
func (s *Service) checkChunkLength(session *models.UploadSession, index int, n int) error {
	if int64(n) > s.opts.MaxChunkBody {
		return fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, n)
	}
	if n == 0 {
		return fmt.Errorf("%w: chunk %d is empty", ErrInvalidChunkSize, index)
	}
	if !s.opts.StrictChunks {
		return nil
	}
	if want := session.ExpectedChunkLength(index); int64(n) != want {
		return fmt.Errorf("%w: chunk %d has %d bytes, expected %d", ErrInvalidChunkSize, index, n, want)
	}
	return nil
}

func chunkResult(index, count, total int) *models.ChunkStoreResult {
	return &models.ChunkStoreResult{
		ChunkIndex:    index,
		UploadedCount: count,
		TotalChunks:   total,
		IsComplete:    count == total,
	}
}
