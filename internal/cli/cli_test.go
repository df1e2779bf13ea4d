package cli

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelhub-go/internal/storage"
	"reelhub-go/internal/uploader"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	temp, err := storage.NewLocalStorage(t.TempDir(), "http://files.test")
	require.NoError(t, err)
	dest, err := storage.NewLocalStorage(t.TempDir(), "http://files.test")
	require.NoError(t, err)

	svc := uploader.NewService(uploader.NewMemoryRepository(), temp, dest, uploader.DefaultOptions())
	r := chi.NewRouter()
	r.Route("/api/uploads", uploader.NewHandler(svc, nil).Routes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestUploadCommand(t *testing.T) {
	srv := newTestServer(t)

	path := filepath.Join(t.TempDir(), "movie.webm")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("reel"), 1024), 0o644))

	out, err := run(t, "--server", srv.URL, "upload", path,
		"--chunk-size", "1KiB", "--parallel", "2", "--mime-type", "video/webm", "--destination", "clips")
	require.NoError(t, err, out)

	assert.Contains(t, out, "4.0 KiB / 4.0 KiB")
	assert.Regexp(t, regexp.MustCompile(`File: clips/[0-9A-Z]{26}\.webm`), out)
	assert.Contains(t, out, "Size: 4.0 KiB")
}

func TestStatusAndCancelCommands(t *testing.T) {
	srv := newTestServer(t)

	out, err := run(t, "--server", srv.URL, "status", "0b7f9c43-5a61-4d55-9a4e-0d1b9f0a2c11")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), uploader.ErrCodeNotFound)

	out, err = run(t, "--server", srv.URL, "cancel", "0b7f9c43-5a61-4d55-9a4e-0d1b9f0a2c11")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")
}

func TestUploadCommandRejectsBadChunkSize(t *testing.T) {
	_, err := run(t, "upload", "missing.mp4", "--chunk-size", "lots")
	assert.ErrorContains(t, err, "invalid chunk size")
}
