package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"reelhub-go/internal/database"
	"reelhub-go/internal/storage"
)

// Config holds server configuration
type Config struct {
	Port         int    // Port to listen on
	Secret       string // Secret key for verifying bearer JWTs
	AuthRequired bool   // Reject requests without a bearer token
	Env          string // Environment (development | production)
	BaseURL      string // Base URL for the server, prefix of every file URL
	Upload       UploadConfig
	Storage      storage.StorageConfig
	Database     database.Config

	NATSURL            string // Empty disables event publishing
	TracingEnabled     bool
	MediaProcessor     string // none | ffmpeg
	RateLimitPerMinute int    // Per client limit on initialize and chunk routes
}

// UploadConfig tunes the chunked upload pipeline
type UploadConfig struct {
	TempDir          string        // Chunk artifacts and file backed session metadata
	MaxFileSize      int64         // Largest accepted declared size in bytes
	ChunkSize        int64         // Default and maximum negotiated chunk size
	MaxChunkBody     int64         // Hard limit on a single chunk request body
	SessionTTL       time.Duration // Lifetime of an upload session
	SweepInterval    time.Duration // How often expired sessions are swept
	OrphanGrace      time.Duration // Minimum age of unreferenced chunk namespaces before removal
	AllowedMimeTypes []string
	StrictChunks     bool   // Require exact per-chunk lengths
	Destination      string // Default directory for assembled files
	SessionStore     string // memory | file | postgres
}

func (c *Config) Log() {
	log.Info().
		Int("port", c.Port).
		Str("env", c.Env).
		Str("base_url", c.BaseURL).
		Bool("auth_required", c.AuthRequired).
		Str("storage_provider", c.Storage.Provider).
		Str("session_store", c.Upload.SessionStore).
		Str("temp_dir", c.Upload.TempDir).
		Str("upload_max_size", humanize.IBytes(uint64(c.Upload.MaxFileSize))).
		Str("chunk_size", humanize.IBytes(uint64(c.Upload.ChunkSize))).
		Str("max_chunk_body", humanize.IBytes(uint64(c.Upload.MaxChunkBody))).
		Dur("session_ttl", c.Upload.SessionTTL).
		Dur("sweep_interval", c.Upload.SweepInterval).
		Bool("strict_chunks", c.Upload.StrictChunks).
		Strs("allowed_mime_types", c.Upload.AllowedMimeTypes).
		Str("media_processor", c.MediaProcessor).
		Bool("tracing", c.TracingEnabled).
		Bool("events", c.NATSURL != "").
		Int("rate_limit_per_minute", c.RateLimitPerMinute).
		Msg("server configuration")
}

// NewConfig creates a server configuration from environment variables
func NewConfig() (*Config, error) {
	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil || port <= 0 {
		log.Error().Err(err).Msg("invalid PORT environment variable")
		return nil, fmt.Errorf("invalid PORT: %q", os.Getenv("PORT"))
	}

	secret := os.Getenv("SECRET")
	if secret == "" {
		log.Error().Msg("SECRET environment variable is required")
		return nil, fmt.Errorf("SECRET is required")
	}

	env := getEnv("APP_ENV", "production")
	baseURL := strings.TrimSuffix(getEnv("BASE_URL", "http://localhost"), "/")

	upload, err := loadUploadConfig()
	if err != nil {
		log.Error().Err(err).Msg("invalid upload configuration")
		return nil, err
	}

	storageConfig := storage.StorageConfig{
		Provider:    getEnv("STORAGE_PROVIDER", "local"),
		LocalPath:   os.Getenv("UPLOAD_DIR"),
		BaseURL:     baseURL,
		ProjectID:   os.Getenv("GCS_PROJECT_ID"),
		BucketName:  os.Getenv("GCS_BUCKET_NAME"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		BlobURL:     os.Getenv("BLOB_URL"),
	}

	// Validate storage configuration
	if err := validateStorageConfig(storageConfig); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}

	if err := ValidateUploadDirs(upload.TempDir, storageConfig); err != nil {
		return nil, err
	}

	if upload.SessionStore == "postgres" && os.Getenv("DB_HOST") == "" {
		return nil, fmt.Errorf("DB_HOST is required for the postgres session store")
	}

	authRequired, err := getBool("AUTH_REQUIRED", false)
	if err != nil {
		return nil, err
	}

	tracing, err := getBool("TRACING_ENABLED", false)
	if err != nil {
		return nil, err
	}

	mediaProcessor := getEnv("MEDIA_PROCESSOR", "none")
	if mediaProcessor != "none" && mediaProcessor != "ffmpeg" {
		return nil, fmt.Errorf("unsupported MEDIA_PROCESSOR: %s", mediaProcessor)
	}

	rateLimit, err := strconv.Atoi(getEnv("RATE_LIMIT_PER_MINUTE", "600"))
	if err != nil || rateLimit < 0 {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %q", os.Getenv("RATE_LIMIT_PER_MINUTE"))
	}

	return &Config{
		Port:         port,
		Secret:       secret,
		AuthRequired: authRequired,
		Env:          env,
		BaseURL:      baseURL,
		Upload:       upload,
		Storage:      storageConfig,
		Database: database.Config{
			Host:     os.Getenv("DB_HOST"),
			Port:     getEnv("DB_PORT", "5432"),
			Database: os.Getenv("DB_DATABASE"),
			Username: os.Getenv("DB_USERNAME"),
			Password: os.Getenv("DB_PASSWORD"),
			Schema:   getEnv("DB_SCHEMA", "public"),
		},
		NATSURL:            os.Getenv("NATS_URL"),
		TracingEnabled:     tracing,
		MediaProcessor:     mediaProcessor,
		RateLimitPerMinute: rateLimit,
	}, nil
}

func loadUploadConfig() (UploadConfig, error) {
	var cfg UploadConfig
	var err error

	if cfg.MaxFileSize, err = getBytes("UPLOAD_MAX_SIZE", "500MiB"); err != nil {
		return cfg, err
	}
	if cfg.ChunkSize, err = getBytes("UPLOAD_CHUNK_SIZE", "1.5MiB"); err != nil {
		return cfg, err
	}
	if cfg.MaxChunkBody, err = getBytes("UPLOAD_MAX_CHUNK_BODY", "2MiB"); err != nil {
		return cfg, err
	}
	if cfg.MaxChunkBody < cfg.ChunkSize {
		return cfg, fmt.Errorf("UPLOAD_MAX_CHUNK_BODY (%s) must not be smaller than UPLOAD_CHUNK_SIZE (%s)",
			humanize.IBytes(uint64(cfg.MaxChunkBody)), humanize.IBytes(uint64(cfg.ChunkSize)))
	}

	if cfg.SessionTTL, err = getDuration("UPLOAD_SESSION_TTL", "24h"); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = getDuration("UPLOAD_SWEEP_INTERVAL", "1h"); err != nil {
		return cfg, err
	}
	if cfg.OrphanGrace, err = getDuration("UPLOAD_ORPHAN_GRACE", "1h"); err != nil {
		return cfg, err
	}

	if cfg.StrictChunks, err = getBool("UPLOAD_STRICT_CHUNKS", true); err != nil {
		return cfg, err
	}

	if raw := os.Getenv("UPLOAD_ALLOWED_MIME_TYPES"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.AllowedMimeTypes = append(cfg.AllowedMimeTypes, strings.ToLower(t))
			}
		}
	}

	cfg.TempDir = getEnv("UPLOAD_TEMP_DIR", filepath.Join(os.TempDir(), "reelhub-chunks"))
	cfg.Destination = strings.Trim(getEnv("UPLOAD_DESTINATION", "videos"), "/")

	cfg.SessionStore = getEnv("SESSION_STORE", "file")
	switch cfg.SessionStore {
	case "memory", "file", "postgres":
	default:
		return cfg, fmt.Errorf("unsupported SESSION_STORE: %s", cfg.SessionStore)
	}

	return cfg, nil
}

// validateStorageConfig ensures the storage configuration is valid
func validateStorageConfig(cfg storage.StorageConfig) error {
	switch cfg.Provider {
	case "local":
		if cfg.LocalPath == "" {
			return fmt.Errorf("UPLOAD_DIR is required for local storage")
		}
	case "gcs":
		if cfg.ProjectID == "" {
			return fmt.Errorf("GCS_PROJECT_ID is required for GCS storage")
		}
		if cfg.BucketName == "" {
			return fmt.Errorf("GCS_BUCKET_NAME is required for GCS storage")
		}
	case "s3":
		if cfg.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for S3 storage")
		}
	case "blob":
		if cfg.BlobURL == "" {
			return fmt.Errorf("BLOB_URL is required for blob storage")
		}
	default:
		return fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
	return nil
}

// ValidateUploadDirs rejects a local destination that shares a directory
// tree with the chunk temp dir. The orphan sweep walks the temp dir and must
// never see assembled files.
func ValidateUploadDirs(tempDir string, cfg storage.StorageConfig) error {
	if cfg.Provider != "local" {
		return nil
	}
	if dirsOverlap(tempDir, cfg.LocalPath) {
		return fmt.Errorf("UPLOAD_TEMP_DIR %q and UPLOAD_DIR %q must not overlap", tempDir, cfg.LocalPath)
	}
	return nil
}

func dirsOverlap(a, b string) bool {
	a, errA := filepath.Abs(a)
	b, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return false
	}
	return within(a, b) || within(b, a)
}

// within reports whether path is dir or lies below it
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getBytes parses human readable sizes such as "500MiB", "1.5MiB" or "25MB".
// A bare number is a byte count.
func getBytes(key, fallback string) (int64, error) {
	raw := getEnv(key, fallback)
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return int64(n), nil
}

// getDuration accepts Go durations. A bare number is taken as hours.
func getDuration(key, fallback string) (time.Duration, error) {
	raw := getEnv(key, fallback)
	if _, err := strconv.Atoi(raw); err == nil {
		raw += "h"
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
