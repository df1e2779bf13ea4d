package uploader

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	userctx "reelhub-go/internal/context"
	"reelhub-go/internal/event"
	"reelhub-go/internal/metrics"
	"reelhub-go/internal/models"
	"reelhub-go/internal/storage"
)

const (
	DefaultMaxFileSize  int64 = 500 << 20 // 500 MiB
	DefaultChunkSize    int64 = 3 << 19   // 1.5 MiB
	DefaultMaxChunkBody int64 = 2 << 20   // 2 MiB
	DefaultSessionTTL         = 24 * time.Hour
	DefaultOrphanGrace        = time.Hour
	DefaultDestination        = "videos"
	sweepConcurrency          = 8
	chunkLockStripes          = 64
)

// DefaultAllowedMimeTypes is the video allow-list applied at initialize
var DefaultAllowedMimeTypes = []string{
	"video/mp4",
	"video/quicktime",
	"video/webm",
	"video/x-msvideo",
	"video/x-matroska",
	"video/mpeg",
	"video/3gpp",
}

// Options tune the upload policy
type Options struct {
	MaxFileSize      int64
	ChunkSize        int64 // default and upper bound for negotiated chunk sizes
	MaxChunkBody     int64
	SessionTTL       time.Duration
	AllowedMimeTypes []string
	// StrictChunks requires every chunk to carry exactly its expected length
	// and rejects anything else with ErrInvalidChunkSize at store time. A
	// session that passes strict mode always sums to its declared size, so
	// SizeMismatchError on complete is only reachable with it turned off.
	StrictChunks     bool
	OrphanGrace      time.Duration
	Destination      string // directory used when complete names none
}

func DefaultOptions() Options {
	return Options{
		MaxFileSize:      DefaultMaxFileSize,
		ChunkSize:        DefaultChunkSize,
		MaxChunkBody:     DefaultMaxChunkBody,
		SessionTTL:       DefaultSessionTTL,
		AllowedMimeTypes: DefaultAllowedMimeTypes,
		StrictChunks:     true,
		OrphanGrace:      DefaultOrphanGrace,
		Destination:      DefaultDestination,
	}
}

// Service implements the session store, the chunk receiver and the assembler.
// Chunk artifacts live in temp under <uploadID>/<index>.part, assembled files
// are written to dest.
type Service struct {
	repo    SessionRepository
	temp    storage.StorageProvider
	dest    storage.StorageProvider
	opts    Options
	now     func() time.Time
	metrics *metrics.Metrics
	events  event.Publisher

	chunkLocks [chunkLockStripes]sync.Mutex
}

type ServiceOption func(*Service)

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func WithPublisher(p event.Publisher) ServiceOption {
	return func(s *Service) { s.events = p }
}

// WithClock overrides time.Now, used by tests to drive expiry
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(repo SessionRepository, temp, dest storage.StorageProvider, opts Options, options ...ServiceOption) *Service {
	defaults := DefaultOptions()
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = defaults.MaxFileSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaults.ChunkSize
	}
	if opts.MaxChunkBody <= 0 {
		opts.MaxChunkBody = defaults.MaxChunkBody
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaults.SessionTTL
	}
	if len(opts.AllowedMimeTypes) == 0 {
		opts.AllowedMimeTypes = defaults.AllowedMimeTypes
	}
	if opts.OrphanGrace <= 0 {
		opts.OrphanGrace = defaults.OrphanGrace
	}
	if opts.Destination == "" {
		opts.Destination = defaults.Destination
	}

	s := &Service{
		repo:   repo,
		temp:   temp,
		dest:   dest,
		opts:   opts,
		now:    time.Now,
		events: event.NewNoop(),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Service) Options() Options {
	return s.opts
}

// Destination returns the provider assembled files are written to
func (s *Service) Destination() storage.StorageProvider {
	return s.dest
}

// lookup resolves a live session visible to the caller. Unknown, malformed,
// expired and foreign sessions all read as ErrSessionNotFound.
func (s *Service) lookup(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return nil, ErrSessionNotFound
	}

	session, err := s.repo.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if session.IsExpired(s.now()) {
		return nil, ErrSessionNotFound
	}

	if session.OwnerID != nil {
		user := userctx.GetUserFromContext(ctx)
		if user == nil || user.ID != *session.OwnerID {
			log.Warn().
				Str("upload_id", uploadID).
				Msg("upload session accessed by non-owner")
			return nil, ErrSessionNotFound
		}
	}

	return session, nil
}

func chunkKey(uploadID string, index int) string {
	return uploadID + "/" + strconv.Itoa(index) + ".part"
}

func namespace(uploadID string) string {
	return uploadID + "/"
}
