package uploader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"reelhub-go/internal/models"
)

var (
	ErrTransaction = errors.New("transaction error")
	ErrCommit      = errors.New("commit transaction error")
	ErrRollback    = errors.New("rollback transaction error")
)

const pgForeignKeyViolation = "23503"

type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository stores sessions in upload_sessions and the received
// set in upload_chunks, one row per (upload_id, chunk_index).
func NewPostgresRepository(db *sqlx.DB) SessionRepository {
	return &postgresRepository{db: db}
}

type Queries struct {
	*sqlx.Tx
}

func (r *postgresRepository) execTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransaction, err)
	}

	if err := fn(&Queries{Tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w: %v, %v", ErrRollback, err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrCommit, err)
	}

	return nil
}

func (r *postgresRepository) Create(ctx context.Context, session *models.UploadSession) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO upload_sessions
		(upload_id, owner_id, file_name, mime_type, total_size, chunk_size, total_chunks, status, created_at, expires_at)
		VALUES (:upload_id, :owner_id, :file_name, :mime_type, :total_size, :chunk_size, :total_chunks, :status, :created_at, :expires_at)`,
		session)
	if err != nil {
		return fmt.Errorf("%w: creating session: %v", ErrStorage, err)
	}
	return nil
}

func (r *postgresRepository) Get(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return nil, ErrSessionNotFound
	}

	var session models.UploadSession
	err := r.execTx(ctx, func(q *Queries) error {
		if err := q.GetContext(ctx, &session, `SELECT * FROM upload_sessions WHERE upload_id = $1`, uploadID); err != nil {
			return err
		}
		session.ReceivedChunks = []int{}
		return q.SelectContext(ctx, &session.ReceivedChunks,
			`SELECT chunk_index FROM upload_chunks WHERE upload_id = $1 ORDER BY chunk_index`, uploadID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return &session, nil
}

// AddChunk relies on the (upload_id, chunk_index) primary key. A conflicting
// insert affects zero rows and counts as an idempotent success.
func (r *postgresRepository) AddChunk(ctx context.Context, uploadID string, index int) (bool, int, error) {
	var added bool
	var count int

	err := r.execTx(ctx, func(q *Queries) error {
		res, err := q.ExecContext(ctx,
			`INSERT INTO upload_chunks (upload_id, chunk_index) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			uploadID, index)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		added = affected == 1
		return q.GetContext(ctx, &count, `SELECT COUNT(*) FROM upload_chunks WHERE upload_id = $1`, uploadID)
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return false, 0, ErrSessionNotFound
	}
	if err != nil {
		return false, 0, fmt.Errorf("%w: adding chunk: %v", ErrStorage, err)
	}
	return added, count, nil
}

func (r *postgresRepository) Claim(ctx context.Context, uploadID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE upload_sessions SET status = $2 WHERE upload_id = $1 AND status = $3`,
		uploadID, models.SessionStatusAssembling, models.SessionStatusUploading)
	if err != nil {
		return fmt.Errorf("%w: claiming session: %v", ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errAssemblyInProgress(uploadID)
	}
	return nil
}

func (r *postgresRepository) Release(ctx context.Context, uploadID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE upload_sessions SET status = $2 WHERE upload_id = $1`,
		uploadID, models.SessionStatusUploading)
	if err != nil {
		return fmt.Errorf("%w: releasing session: %v", ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, uploadID string) (bool, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE upload_id = $1`, uploadID)
	if err != nil {
		return false, fmt.Errorf("%w: deleting session: %v", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n > 0, nil
}

func (r *postgresRepository) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT upload_id FROM upload_sessions WHERE expires_at < $1`, now); err != nil {
		return nil, fmt.Errorf("%w: listing expired sessions: %v", ErrStorage, err)
	}
	return ids, nil
}

func (r *postgresRepository) ListIDs(ctx context.Context) (map[string]bool, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT upload_id FROM upload_sessions`); err != nil {
		return nil, fmt.Errorf("%w: listing sessions: %v", ErrStorage, err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}
