package uploader

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reelhub-go/internal/models"
)

// SessionRepository persists upload session metadata. Implementations must
// make AddChunk an atomic add-if-absent so concurrent stores for one session
// never lose an index.
type SessionRepository interface {
	Create(ctx context.Context, session *models.UploadSession) error

	// Get returns a copy of the session or ErrSessionNotFound.
	Get(ctx context.Context, uploadID string) (*models.UploadSession, error)

	// AddChunk inserts index into the received set. added is false when the
	// index was already present. count is the set size after the insert.
	AddChunk(ctx context.Context, uploadID string, index int) (added bool, count int, err error)

	// Claim moves the session from uploading to assembling. A session that is
	// missing or already claimed yields ErrSessionNotFound.
	Claim(ctx context.Context, uploadID string) error

	// Release returns a claimed session to uploading.
	Release(ctx context.Context, uploadID string) error

	// Delete removes the session and reports whether it existed.
	Delete(ctx context.Context, uploadID string) (bool, error)

	ListExpired(ctx context.Context, now time.Time) ([]string, error)

	// ListIDs returns the ids of every stored session.
	ListIDs(ctx context.Context) (map[string]bool, error)
}

func errAssemblyInProgress(uploadID string) error {
	return fmt.Errorf("%w: assembly in progress for %s", ErrSessionNotFound, uploadID)
}

type memoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*models.UploadSession
}

// NewMemoryRepository keeps sessions in process memory. Sessions do not
// survive a restart.
func NewMemoryRepository() SessionRepository {
	return &memoryRepository{
		sessions: make(map[string]*models.UploadSession),
	}
}

func (r *memoryRepository) Create(ctx context.Context, session *models.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.UploadID]; ok {
		return fmt.Errorf("upload session %s already exists", session.UploadID)
	}
	r.sessions[session.UploadID] = cloneSession(session)
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[uploadID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (r *memoryRepository) AddChunk(ctx context.Context, uploadID string, index int) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[uploadID]
	if !ok {
		return false, 0, ErrSessionNotFound
	}
	added := insertSorted(session, index)
	return added, len(session.ReceivedChunks), nil
}

func (r *memoryRepository) Claim(ctx context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[uploadID]
	if !ok || session.Status != models.SessionStatusUploading {
		return errAssemblyInProgress(uploadID)
	}
	session.Status = models.SessionStatusAssembling
	return nil
}

func (r *memoryRepository) Release(ctx context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[uploadID]
	if !ok {
		return ErrSessionNotFound
	}
	session.Status = models.SessionStatusUploading
	return nil
}

func (r *memoryRepository) Delete(ctx context.Context, uploadID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[uploadID]
	delete(r.sessions, uploadID)
	return ok, nil
}

func (r *memoryRepository) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, session := range r.sessions {
		if session.IsExpired(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memoryRepository) ListIDs(ctx context.Context) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make(map[string]bool, len(r.sessions))
	for id := range r.sessions {
		ids[id] = true
	}
	return ids, nil
}

func cloneSession(s *models.UploadSession) *models.UploadSession {
	c := *s
	c.ReceivedChunks = append([]int(nil), s.ReceivedChunks...)
	if c.ReceivedChunks == nil {
		c.ReceivedChunks = []int{}
	}
	return &c
}

// insertSorted adds index to the sorted received set if absent
func insertSorted(s *models.UploadSession, index int) bool {
	i := sort.SearchInts(s.ReceivedChunks, index)
	if i < len(s.ReceivedChunks) && s.ReceivedChunks[i] == index {
		return false
	}
	s.ReceivedChunks = append(s.ReceivedChunks, 0)
	copy(s.ReceivedChunks[i+1:], s.ReceivedChunks[i:])
	s.ReceivedChunks[i] = index
	return true
}
