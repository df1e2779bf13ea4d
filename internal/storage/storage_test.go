package storage

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// providers returns the providers that can run without external services
func providers(t *testing.T) map[string]StorageProvider {
	t.Helper()
	ctx := context.Background()

	local, err := NewLocalStorage(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)

	mem, err := NewBlobStorage(ctx, "mem://", "http://localhost:8080")
	require.NoError(t, err)

	file, err := NewBlobStorage(ctx, "file://"+filepath.ToSlash(t.TempDir()), "http://localhost:8080")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = mem.Close()
		_ = file.Close()
	})

	return map[string]StorageProvider{
		"local":     local,
		"blob_mem":  mem,
		"blob_file": file,
	}
}

func TestProviderRoundTrip(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			key, err := p.Upload(ctx, bytes.NewReader([]byte("hello")), "abc/0.part")
			require.NoError(t, err)
			assert.Equal(t, "abc/0.part", key)

			ok, err := p.Exists(ctx, "abc/0.part")
			require.NoError(t, err)
			assert.True(t, ok)

			info, err := p.Stat(ctx, "abc/0.part")
			require.NoError(t, err)
			assert.Equal(t, int64(5), info.Size)

			r, err := p.Open(ctx, "abc/0.part")
			require.NoError(t, err)
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, "hello", string(data))

			url, _, err := p.GetURL(ctx, "videos/x.mp4")
			require.NoError(t, err)
			assert.Equal(t, "http://localhost:8080/f/videos/x.mp4", url)
		})
	}
}

func TestProviderWriter(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			w, err := p.NewWriter(ctx, "videos/out.mp4", "video/mp4")
			require.NoError(t, err)
			_, err = w.Write([]byte("part-one,"))
			require.NoError(t, err)
			_, err = w.Write([]byte("part-two"))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			info, err := p.Stat(ctx, "videos/out.mp4")
			require.NoError(t, err)
			assert.Equal(t, int64(len("part-one,part-two")), info.Size)
		})
	}
}

func TestProviderMissingKeys(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := p.Open(ctx, "nope/0.part")
			assert.ErrorIs(t, err, ErrNotExist)

			_, err = p.Stat(ctx, "nope/0.part")
			assert.ErrorIs(t, err, ErrNotExist)

			ok, err := p.Exists(ctx, "nope/0.part")
			require.NoError(t, err)
			assert.False(t, ok)

			// Deleting missing keys is not an error
			assert.NoError(t, p.Delete(ctx, "nope/0.part"))
			assert.NoError(t, p.DeletePrefix(ctx, "nope/"))
		})
	}
}

func TestProviderDeletePrefix(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, key := range []string{"u1/0.part", "u1/1.part", "u2/0.part"} {
				_, err := p.Upload(ctx, bytes.NewReader([]byte("x")), key)
				require.NoError(t, err)
			}

			require.NoError(t, p.DeletePrefix(ctx, "u1/"))

			files, err := p.ListFiles(ctx, "")
			require.NoError(t, err)
			names := make([]string, 0, len(files))
			for _, f := range files {
				names = append(names, f.Name)
			}
			sort.Strings(names)
			assert.Equal(t, []string{"u2/0.part"}, names)
		})
	}
}

func TestProviderStream(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := p.Upload(ctx, bytes.NewReader([]byte("stream me")), "videos/s.mp4")
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			require.NoError(t, p.Stream(ctx, "videos/s.mp4", rec))
			assert.Equal(t, "stream me", rec.Body.String())
			assert.Equal(t, "9", rec.Header().Get("Content-Length"))

			err = p.Stream(ctx, "videos/missing.mp4", httptest.NewRecorder())
			assert.ErrorIs(t, err, ErrNotExist)
		})
	}
}

func TestLocalStorageLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	p, err := NewLocalStorage(dir, "")
	require.NoError(t, err)

	_, err = p.Upload(context.Background(), bytes.NewReader([]byte("abc")), "a/0.part")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "0.part", entries[0].Name())
	assert.Equal(t, filepath.Join(dir, "a", "0.part"), p.LocalPath("a/0.part"))
}

func TestLocalStorageRefusesRootDelete(t *testing.T) {
	p, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)
	assert.Error(t, p.DeletePrefix(context.Background(), "/"))
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{"Simple", "videos/a.mp4", "videos/a.mp4", false},
		{"Leading slash", "/videos/a.mp4", "videos/a.mp4", false},
		{"Backslashes", `videos\a.mp4`, "videos/a.mp4", false},
		{"Traversal", "../etc/passwd", "", true},
		{"Nested traversal", "videos/../../x", "", true},
		{"Empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewStorageProviderUnknown(t *testing.T) {
	_, err := NewStorageProvider(context.Background(), StorageConfig{Provider: "ftp"})
	assert.Error(t, err)
}
