package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type LocalStorageProvider struct {
	baseDir string
	baseURL string
}

func NewLocalStorage(baseDir, baseURL string) (*LocalStorageProvider, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorageProvider{
		baseDir: baseDir,
		baseURL: baseURL,
	}, nil
}

// LocalPath maps a key to its location on disk
func (l *LocalStorageProvider) LocalPath(filename string) string {
	return filepath.Join(l.baseDir, filepath.FromSlash(filename))
}

// Upload writes into a temporary file and renames it into place, so concurrent
// writers of the same key never interleave bytes.
func (l *LocalStorageProvider) Upload(ctx context.Context, file io.Reader, filename string) (string, error) {
	w, err := l.NewWriter(ctx, filename, "")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(w, file); err != nil {
		w.(*localWriter).abort()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return filename, nil
}

type localWriter struct {
	tmp  *os.File
	dest string
}

func (w *localWriter) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

func (w *localWriter) Close() error {
	if err := w.tmp.Close(); err != nil {
		_ = os.Remove(w.tmp.Name())
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(w.tmp.Name(), w.dest); err != nil {
		_ = os.Remove(w.tmp.Name())
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

func (w *localWriter) abort() {
	_ = w.tmp.Close()
	_ = os.Remove(w.tmp.Name())
}

func (l *LocalStorageProvider) NewWriter(ctx context.Context, filename string, contentType string) (io.WriteCloser, error) {
	fullPath := l.LocalPath(filename)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), "."+filepath.Base(fullPath)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &localWriter{tmp: tmp, dest: fullPath}, nil
}

func (l *LocalStorageProvider) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	file, err := os.Open(l.LocalPath(filename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (l *LocalStorageProvider) Stat(ctx context.Context, filename string) (FileInfo, error) {
	info, err := os.Stat(l.LocalPath(filename))
	if errors.Is(err, fs.ErrNotExist) {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotExist, filename)
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}
	return FileInfo{
		Name:         filename,
		Size:         info.Size(),
		ModifiedTime: info.ModTime(),
	}, nil
}

func (l *LocalStorageProvider) Stream(ctx context.Context, filename string, w http.ResponseWriter) error {
	file, err := os.Open(l.LocalPath(filename))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotExist, filename)
	}
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	// Detect content type
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read file header: %w", err)
	}
	contentType := http.DetectContentType(buffer[:n])

	// Reset file pointer after reading header
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to reset file pointer: %w", err)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(fileInfo.Size(), 10))
	w.Header().Set("Cache-Control", "public, max-age=86400") // 24 hours cache

	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("failed to stream file: %w", err)
	}

	return nil
}

func (l *LocalStorageProvider) Exists(ctx context.Context, filename string) (bool, error) {
	_, err := os.Stat(l.LocalPath(filename))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("error checking file existence: %w", err)
}

func (l *LocalStorageProvider) Delete(ctx context.Context, filename string) error {
	if err := os.Remove(l.LocalPath(filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (l *LocalStorageProvider) DeletePrefix(ctx context.Context, prefix string) error {
	target := l.LocalPath(strings.TrimSuffix(prefix, "/"))
	if filepath.Clean(target) == filepath.Clean(l.baseDir) {
		return fmt.Errorf("refusing to delete storage root")
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to delete %s: %w", prefix, err)
	}
	log.Debug().
		Str("prefix", prefix).
		Msg("deleted storage prefix")
	return nil
}

func (l *LocalStorageProvider) GetURL(ctx context.Context, filename string) (string, time.Duration, error) {
	return fileURL(l.baseURL, filename), 0, nil
}

func (l *LocalStorageProvider) ListFiles(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo
	basePath := l.LocalPath(prefix)

	err := filepath.Walk(basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == basePath {
				return filepath.SkipDir
			}
			return err
		}

		// Skip directories and in-flight temporary files
		if info.IsDir() || strings.HasSuffix(info.Name(), ".tmp") {
			return nil
		}

		relPath, err := filepath.Rel(l.baseDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}

		files = append(files, FileInfo{
			Name:         filepath.ToSlash(relPath),
			Size:         info.Size(),
			ModifiedTime: info.ModTime(),
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("error walking directory: %w", err)
	}

	return files, nil
}

func (l *LocalStorageProvider) Close() error {
	return nil
}
