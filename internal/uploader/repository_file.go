package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"reelhub-go/internal/models"
)

const sessionFileName = "session.json"

// fileRepository stores each session as JSON inside the session's own
// namespace directory, next to its chunk artifacts. A single mutex serialises
// read-modify-write cycles, so one process may own a directory at a time.
type fileRepository struct {
	mu      sync.Mutex
	baseDir string
}

func NewFileRepository(baseDir string) (SessionRepository, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return &fileRepository{baseDir: baseDir}, nil
}

func (r *fileRepository) path(uploadID string) string {
	return filepath.Join(r.baseDir, uploadID, sessionFileName)
}

func (r *fileRepository) read(uploadID string) (*models.UploadSession, error) {
	data, err := os.ReadFile(r.path(uploadID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading session: %v", ErrStorage, err)
	}

	var session models.UploadSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%w: decoding session %s: %v", ErrStorage, uploadID, err)
	}
	if session.ReceivedChunks == nil {
		session.ReceivedChunks = []int{}
	}
	return &session, nil
}

// write replaces the metadata file atomically via rename
func (r *fileRepository) write(session *models.UploadSession) error {
	dir := filepath.Join(r.baseDir, session.UploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating session directory: %v", ErrStorage, err)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+sessionFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: writing session: %v", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := os.Rename(tmp.Name(), r.path(session.UploadID)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (r *fileRepository) Create(ctx context.Context, session *models.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(r.path(session.UploadID)); err == nil {
		return fmt.Errorf("upload session %s already exists", session.UploadID)
	}
	return r.write(cloneSession(session))
}

func (r *fileRepository) Get(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(uploadID)
}

func (r *fileRepository) AddChunk(ctx context.Context, uploadID string, index int) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.read(uploadID)
	if err != nil {
		return false, 0, err
	}
	if !insertSorted(session, index) {
		return false, len(session.ReceivedChunks), nil
	}
	if err := r.write(session); err != nil {
		return false, 0, err
	}
	return true, len(session.ReceivedChunks), nil
}

func (r *fileRepository) Claim(ctx context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.read(uploadID)
	if errors.Is(err, ErrSessionNotFound) {
		return errAssemblyInProgress(uploadID)
	}
	if err != nil {
		return err
	}
	if session.Status != models.SessionStatusUploading {
		return errAssemblyInProgress(uploadID)
	}
	session.Status = models.SessionStatusAssembling
	return r.write(session)
}

func (r *fileRepository) Release(ctx context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.read(uploadID)
	if err != nil {
		return err
	}
	session.Status = models.SessionStatusUploading
	return r.write(session)
}

// Delete removes only the metadata file, chunk artifacts belong to storage.
func (r *fileRepository) Delete(ctx context.Context, uploadID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.path(uploadID))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: deleting session: %v", ErrStorage, err)
	}
	// The directory is removed if nothing else lives in it
	_ = os.Remove(filepath.Join(r.baseDir, uploadID))
	return true, nil
}

func (r *fileRepository) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := r.listIDs()
	if err != nil {
		return nil, err
	}

	var expired []string
	for id := range ids {
		session, err := r.read(id)
		if err != nil {
			log.Warn().
				Err(err).
				Str("upload_id", id).
				Msg("skipping unreadable session")
			continue
		}
		if session.IsExpired(now) {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

func (r *fileRepository) ListIDs(ctx context.Context) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listIDs()
}

func (r *fileRepository) listIDs() (map[string]bool, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading session directory: %v", ErrStorage, err)
	}

	ids := make(map[string]bool)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(r.path(entry.Name())); err == nil {
			ids[entry.Name()] = true
		}
	}
	return ids, nil
}
