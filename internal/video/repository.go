package video

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"reelhub-go/internal/models"
)

var (
	ErrNotFound    = errors.New("video not found")
	ErrTransaction = errors.New("transaction error")
)

// Repository is the record store for published videos
type Repository interface {
	Create(ctx context.Context, v *models.Video) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, v *models.Video) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO videos
		(id, owner_id, title, file_name, file_path, file_url, file_size, mime_type, duration_seconds, thumbnail_path, processing_status, created_at)
		VALUES (:id, :owner_id, :title, :file_name, :file_path, :file_url, :file_size, :mime_type, :duration_seconds, :thumbnail_path, :processing_status, :created_at)`,
		v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransaction, err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	var v models.Video
	err := r.db.GetContext(ctx, &v, `SELECT * FROM videos WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTransaction, err)
	}
	return &v, nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransaction, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type memoryRepository struct {
	mu     sync.RWMutex
	videos map[uuid.UUID]models.Video
}

func NewMemoryRepository() Repository {
	return &memoryRepository{videos: make(map[uuid.UUID]models.Video)}
}

func (r *memoryRepository) Create(ctx context.Context, v *models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos[v.ID] = *v
	return nil
}

func (r *memoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (r *memoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videos[id]; !ok {
		return ErrNotFound
	}
	delete(r.videos, id)
	return nil
}
