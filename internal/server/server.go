package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog/log"

	"reelhub-go/internal/auth"
	"reelhub-go/internal/config"
	"reelhub-go/internal/database"
	"reelhub-go/internal/event"
	"reelhub-go/internal/media"
	"reelhub-go/internal/metrics"
	"reelhub-go/internal/storage"
	"reelhub-go/internal/uploader"
	"reelhub-go/internal/video"
)

// Server represents the HTTP server and its dependencies
type Server struct {
	config        *config.Config
	db            *database.DB // nil unless a postgres store is configured
	tokenAuth     *jwtauth.JWTAuth
	metrics       *metrics.Metrics
	events        event.Publisher
	temp          storage.StorageProvider
	dest          storage.StorageProvider
	uploadService *uploader.Service
	uploadHandler *uploader.Handler
	videoHandler  *video.Handler
	cleanup       *uploader.CleanupWorker
}

// NewServer creates a new server instance. db may be nil, in which case the
// postgres session store is unavailable and videos are kept in memory.
func NewServer(ctx context.Context, cfg *config.Config, db *database.DB) (*Server, error) {
	if err := config.ValidateUploadDirs(cfg.Upload.TempDir, cfg.Storage); err != nil {
		return nil, err
	}

	temp, err := storage.NewLocalStorage(cfg.Upload.TempDir, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("initializing chunk storage: %w", err)
	}

	dest, err := storage.NewStorageProvider(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	sessions, err := newSessionRepository(cfg, db)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	events := event.NewNoop()
	if cfg.NATSURL != "" {
		events = event.NewPublisher(cfg.NATSURL)
	}

	uploadService := uploader.NewService(sessions, temp, dest, uploader.Options{
		MaxFileSize:      cfg.Upload.MaxFileSize,
		ChunkSize:        cfg.Upload.ChunkSize,
		MaxChunkBody:     cfg.Upload.MaxChunkBody,
		SessionTTL:       cfg.Upload.SessionTTL,
		AllowedMimeTypes: cfg.Upload.AllowedMimeTypes,
		StrictChunks:     cfg.Upload.StrictChunks,
		OrphanGrace:      cfg.Upload.OrphanGrace,
		Destination:      cfg.Upload.Destination,
	}, uploader.WithMetrics(m), uploader.WithPublisher(events))

	videoRepo := video.NewMemoryRepository()
	if db != nil {
		videoRepo = video.NewPostgresRepository(db.DB)
	}
	videoService := video.NewService(videoRepo, dest, media.NewProcessor(cfg.MediaProcessor, dest))

	return &Server{
		config:        cfg,
		db:            db,
		tokenAuth:     auth.NewIssuer(cfg.Secret).GetAuth(),
		metrics:       m,
		events:        events,
		temp:          temp,
		dest:          dest,
		uploadService: uploadService,
		uploadHandler: uploader.NewHandler(uploadService, videoService),
		videoHandler:  video.NewHandler(videoService),
		cleanup:       uploader.NewCleanupWorker(uploadService, cfg.Upload.SweepInterval),
	}, nil
}

func newSessionRepository(cfg *config.Config, db *database.DB) (uploader.SessionRepository, error) {
	switch cfg.Upload.SessionStore {
	case "memory":
		return uploader.NewMemoryRepository(), nil
	case "file":
		return uploader.NewFileRepository(cfg.Upload.TempDir)
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres session store requires a database connection")
		}
		return uploader.NewPostgresRepository(db.DB), nil
	default:
		return nil, fmt.Errorf("unsupported session store: %s", cfg.Upload.SessionStore)
	}
}

// Start builds the HTTP server and starts the cleanup worker
func (s *Server) Start(ctx context.Context) (*http.Server, error) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      10 * time.Minute, // assembled files are streamed from /f/
	}

	s.cleanup.Start(ctx)

	log.Info().
		Int("port", s.config.Port).
		Str("env", s.config.Env).
		Msg("starting server")

	return srv, nil
}

// Close stops background work and releases storage and event connections
func (s *Server) Close() {
	s.cleanup.Stop()

	if err := s.events.Close(); err != nil {
		log.Error().Err(err).Msg("error closing event publisher")
	}
	for name, p := range map[string]storage.StorageProvider{"temp": s.temp, "dest": s.dest} {
		if err := p.Close(); err != nil {
			log.Error().
				Err(err).
				Str("storage", name).
				Msg("error closing storage provider")
		}
	}
}

// sendJSON sends a JSON response with consistent formatting
func (s *Server) sendJSON(w http.ResponseWriter, status int, success bool, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := uploader.APIResponse{
		Success: success,
		Message: message,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().
			Err(err).
			Msg("error encoding JSON response")
	}
}
