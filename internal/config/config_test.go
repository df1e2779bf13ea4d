package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelhub-go/internal/storage"
)

// baseEnv is the minimal valid environment
func baseEnv() map[string]string {
	return map[string]string{
		"PORT":       "8080",
		"SECRET":     "mysecret",
		"APP_ENV":    "development",
		"BASE_URL":   "http://localhost:8080/",
		"UPLOAD_DIR": "./uploads",
	}
}

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, key := range []string{
		"PORT", "SECRET", "APP_ENV", "BASE_URL", "UPLOAD_DIR", "UPLOAD_TEMP_DIR",
		"UPLOAD_MAX_SIZE", "UPLOAD_CHUNK_SIZE", "UPLOAD_MAX_CHUNK_BODY",
		"UPLOAD_SESSION_TTL", "UPLOAD_SWEEP_INTERVAL", "UPLOAD_ORPHAN_GRACE",
		"UPLOAD_ALLOWED_MIME_TYPES", "UPLOAD_STRICT_CHUNKS", "UPLOAD_DESTINATION",
		"SESSION_STORE", "STORAGE_PROVIDER", "GCS_PROJECT_ID", "GCS_BUCKET_NAME",
		"S3_BUCKET", "BLOB_URL", "DB_HOST", "NATS_URL", "TRACING_ENABLED",
		"MEDIA_PROCESSOR", "RATE_LIMIT_PER_MINUTE", "AUTH_REQUIRED",
	} {
		t.Setenv(key, "")
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestNewConfigDefaults(t *testing.T) {
	setEnv(t, baseEnv())

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "local", cfg.Storage.Provider)
	assert.Equal(t, cfg.BaseURL, cfg.Storage.BaseURL)

	assert.Equal(t, int64(500<<20), cfg.Upload.MaxFileSize)
	assert.Equal(t, int64(3<<19), cfg.Upload.ChunkSize)
	assert.Equal(t, int64(2<<20), cfg.Upload.MaxChunkBody)
	assert.Equal(t, 24*time.Hour, cfg.Upload.SessionTTL)
	assert.Equal(t, time.Hour, cfg.Upload.SweepInterval)
	assert.True(t, cfg.Upload.StrictChunks)
	assert.Empty(t, cfg.Upload.AllowedMimeTypes)
	assert.Equal(t, "videos", cfg.Upload.Destination)
	assert.Equal(t, "file", cfg.Upload.SessionStore)
	assert.NotEmpty(t, cfg.Upload.TempDir)

	assert.False(t, cfg.AuthRequired)
	assert.Equal(t, "none", cfg.MediaProcessor)
	assert.False(t, cfg.TracingEnabled)
	assert.Equal(t, 600, cfg.RateLimitPerMinute)
	assert.Equal(t, "5432", cfg.Database.Port)
}

func TestNewConfigOverrides(t *testing.T) {
	env := baseEnv()
	env["UPLOAD_MAX_SIZE"] = "1GiB"
	env["UPLOAD_CHUNK_SIZE"] = "4MiB"
	env["UPLOAD_MAX_CHUNK_BODY"] = "5MiB"
	env["UPLOAD_SESSION_TTL"] = "48"
	env["UPLOAD_SWEEP_INTERVAL"] = "15m"
	env["UPLOAD_STRICT_CHUNKS"] = "false"
	env["UPLOAD_ALLOWED_MIME_TYPES"] = "video/MP4, video/webm,"
	env["UPLOAD_DESTINATION"] = "/clips/"
	env["SESSION_STORE"] = "memory"
	env["TRACING_ENABLED"] = "true"
	env["MEDIA_PROCESSOR"] = "ffmpeg"
	env["NATS_URL"] = "nats://localhost:4222"
	env["AUTH_REQUIRED"] = "1"
	setEnv(t, env)

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, int64(1<<30), cfg.Upload.MaxFileSize)
	assert.Equal(t, int64(4<<20), cfg.Upload.ChunkSize)
	assert.Equal(t, int64(5<<20), cfg.Upload.MaxChunkBody)
	assert.Equal(t, 48*time.Hour, cfg.Upload.SessionTTL)
	assert.Equal(t, 15*time.Minute, cfg.Upload.SweepInterval)
	assert.False(t, cfg.Upload.StrictChunks)
	assert.Equal(t, []string{"video/mp4", "video/webm"}, cfg.Upload.AllowedMimeTypes)
	assert.Equal(t, "clips", cfg.Upload.Destination)
	assert.Equal(t, "memory", cfg.Upload.SessionStore)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, "ffmpeg", cfg.MediaProcessor)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.True(t, cfg.AuthRequired)
}

func TestNewConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]string
		drop []string
	}{
		{name: "Missing PORT", drop: []string{"PORT"}},
		{name: "Invalid PORT", set: map[string]string{"PORT": "http"}},
		{name: "Missing SECRET", drop: []string{"SECRET"}},
		{name: "Invalid max size", set: map[string]string{"UPLOAD_MAX_SIZE": "invalid"}},
		{name: "Chunk body below chunk size", set: map[string]string{"UPLOAD_CHUNK_SIZE": "4MiB", "UPLOAD_MAX_CHUNK_BODY": "1MiB"}},
		{name: "Invalid TTL", set: map[string]string{"UPLOAD_SESSION_TTL": "-1h"}},
		{name: "Invalid strict flag", set: map[string]string{"UPLOAD_STRICT_CHUNKS": "maybe"}},
		{name: "Unknown session store", set: map[string]string{"SESSION_STORE": "redis"}},
		{name: "Postgres without host", set: map[string]string{"SESSION_STORE": "postgres"}},
		{name: "Local without dir", drop: []string{"UPLOAD_DIR"}},
		{name: "Temp dir equals upload dir", set: map[string]string{"UPLOAD_TEMP_DIR": "./uploads"}},
		{name: "Temp dir inside upload dir", set: map[string]string{"UPLOAD_TEMP_DIR": "uploads/chunks"}},
		{name: "Upload dir inside temp dir", set: map[string]string{"UPLOAD_TEMP_DIR": "."}},
		{name: "GCS without bucket", set: map[string]string{"STORAGE_PROVIDER": "gcs", "GCS_PROJECT_ID": "p"}},
		{name: "S3 without bucket", set: map[string]string{"STORAGE_PROVIDER": "s3"}},
		{name: "Blob without url", set: map[string]string{"STORAGE_PROVIDER": "blob"}},
		{name: "Unknown provider", set: map[string]string{"STORAGE_PROVIDER": "ftp"}},
		{name: "Unknown media processor", set: map[string]string{"MEDIA_PROCESSOR": "handbrake"}},
		{name: "Invalid rate limit", set: map[string]string{"RATE_LIMIT_PER_MINUTE": "lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			for _, k := range tt.drop {
				delete(env, k)
			}
			for k, v := range tt.set {
				env[k] = v
			}
			setEnv(t, env)

			cfg, err := NewConfig()
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestGetBytes(t *testing.T) {
	tests := []struct {
		value   string
		want    int64
		wantErr bool
	}{
		{"500MiB", 500 << 20, false},
		{"1.5MiB", 3 << 19, false},
		{"25MB", 25_000_000, false},
		{"1048576", 1 << 20, false},
		{"0", 0, true},
		{"lots", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BYTES", tt.value)
			got, err := getBytes("TEST_BYTES", "1MiB")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateUploadDirs(t *testing.T) {
	local := func(dir string) storage.StorageConfig {
		return storage.StorageConfig{Provider: "local", LocalPath: dir}
	}

	assert.NoError(t, ValidateUploadDirs("/srv/chunks", local("/srv/uploads")))
	assert.NoError(t, ValidateUploadDirs("/srv/uploads-tmp", local("/srv/uploads")))
	assert.NoError(t, ValidateUploadDirs("/srv/uploads", storage.StorageConfig{Provider: "s3", S3Bucket: "b"}))

	assert.Error(t, ValidateUploadDirs("/srv/uploads", local("/srv/uploads/")))
	assert.Error(t, ValidateUploadDirs("/srv/uploads/tmp", local("/srv/uploads")))
	assert.Error(t, ValidateUploadDirs("/srv", local("/srv/uploads")))
}
