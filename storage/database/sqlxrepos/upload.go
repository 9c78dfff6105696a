package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tabula/core/upload"
)

const uniqueViolation = "23505"

type sessionRecord struct {
	ID               int64         `db:"id"`
	UploadID         string        `db:"upload_id"`
	OriginalFileName string        `db:"original_file_name"`
	StoredFileName   string        `db:"stored_file_name"`
	FileSize         int64         `db:"file_size"`
	TotalChunks      int           `db:"total_chunks"`
	ReceivedChunks   pq.Int64Array `db:"received_chunks"`
	ProcessedChunks  int           `db:"processed_chunks"`
	Status           string        `db:"status"`
	TotalRows        int           `db:"total_rows"`
	ProcessedRows    int           `db:"processed_rows"`
	FinalPath        string        `db:"final_path"`
	ErrorMessage     null.String   `db:"error_message"`
	IngestedAt       null.Time     `db:"ingested_at"`
	CreatedAt        time.Time     `db:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at"`
}

type uploadRepository struct {
	db *sqlx.DB
}

var _ upload.Repository = (*uploadRepository)(nil) // interface compliance check

func NewUploadRepository(db *sqlx.DB) upload.Repository {
	return &uploadRepository{db: db}
}

func (repo uploadRepository) boil(s upload.Session) sessionRecord {
	chunks := make(pq.Int64Array, 0, len(s.ReceivedChunks))
	for _, idx := range s.ReceivedChunks {
		chunks = append(chunks, int64(idx))
	}
	return sessionRecord{
		ID:               s.ID,
		UploadID:         s.UploadID,
		OriginalFileName: s.OriginalFileName,
		StoredFileName:   s.StoredFileName,
		FileSize:         s.FileSize,
		TotalChunks:      s.TotalChunks,
		ReceivedChunks:   chunks,
		ProcessedChunks:  len(chunks),
		Status:           string(s.Status),
		TotalRows:        s.TotalRows,
		ProcessedRows:    s.ProcessedRows,
		FinalPath:        s.FinalPath,
		ErrorMessage:     s.ErrorMessage,
		IngestedAt:       s.IngestedAt,
		CreatedAt:        s.CreatedAt.UTC(),
		UpdatedAt:        s.UpdatedAt.UTC(),
	}
}

func (repo uploadRepository) unboil(rec sessionRecord) upload.Session {
	chunks := make([]int, 0, len(rec.ReceivedChunks))
	for _, idx := range rec.ReceivedChunks {
		chunks = append(chunks, int(idx))
	}
	return upload.Session{
		ID:               rec.ID,
		UploadID:         rec.UploadID,
		OriginalFileName: rec.OriginalFileName,
		StoredFileName:   rec.StoredFileName,
		FileSize:         rec.FileSize,
		TotalChunks:      rec.TotalChunks,
		ReceivedChunks:   chunks,
		Status:           upload.Status(rec.Status),
		TotalRows:        rec.TotalRows,
		ProcessedRows:    rec.ProcessedRows,
		FinalPath:        rec.FinalPath,
		ErrorMessage:     rec.ErrorMessage,
		IngestedAt:       rec.IngestedAt,
		CreatedAt:        rec.CreatedAt.UTC(),
		UpdatedAt:        rec.UpdatedAt.UTC(),
	}
}

// trapNoRowsErr maps psql "no rows" err to upload.ErrNotFound
func (repo uploadRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return upload.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo uploadRepository) CreateSession(ctx context.Context, sess upload.Session) (upload.Session, error) {
	rec := repo.boil(sess)
	q := `INSERT INTO upload_session (
			upload_id, original_file_name, stored_file_name, file_size, total_chunks, received_chunks,
			processed_chunks, status, total_rows, processed_rows, final_path, error_message, ingested_at,
			created_at, updated_at
		) VALUES (
			:upload_id, :original_file_name, :stored_file_name, :file_size, :total_chunks, :received_chunks,
			:processed_chunks, :status, :total_rows, :processed_rows, :final_path, :error_message, :ingested_at,
			:created_at, :updated_at
		) RETURNING id`

	stmt, err := repo.db.PrepareNamedContext(ctx, q)
	if err != nil {
		return upload.Session{}, errors.Wrap(err, "preparing session insert")
	}
	defer func() { _ = stmt.Close() }()

	if err = stmt.GetContext(ctx, &rec.ID, rec); err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return upload.Session{}, upload.ErrConflict
		}
		return upload.Session{}, errors.Wrap(err, "inserting session")
	}
	return repo.unboil(rec), nil
}

func (repo uploadRepository) GetSession(ctx context.Context, uploadID string) (upload.Session, error) {
	var rec sessionRecord
	err := repo.db.GetContext(ctx, &rec, `SELECT * FROM upload_session WHERE upload_id = $1`, uploadID)
	if err != nil {
		return upload.Session{}, repo.trapNoRowsErr(err, "finding session")
	}
	return repo.unboil(rec), nil
}

func (repo uploadRepository) GetSessionByID(ctx context.Context, id int64) (upload.Session, error) {
	var rec sessionRecord
	err := repo.db.GetContext(ctx, &rec, `SELECT * FROM upload_session WHERE id = $1`, id)
	if err != nil {
		return upload.Session{}, repo.trapNoRowsErr(err, "finding session by ID")
	}
	return repo.unboil(rec), nil
}

func (repo uploadRepository) RecordChunk(ctx context.Context, id int64, index int) (sess upload.Session, err error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return upload.Session{}, errors.Wrap(err, "starting transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var rec sessionRecord
	if err = tx.GetContext(ctx, &rec, `SELECT * FROM upload_session WHERE id = $1 FOR UPDATE`, id); err != nil {
		return upload.Session{}, repo.trapNoRowsErr(err, "locking session")
	}

	sess = repo.unboil(rec)
	if sess.AddChunk(index) {
		sess.UpdatedAt = time.Now().UTC()
		rec = repo.boil(sess)
		_, err = tx.ExecContext(ctx,
			`UPDATE upload_session SET received_chunks = $2, processed_chunks = $3, updated_at = $4 WHERE id = $1`,
			id, rec.ReceivedChunks, rec.ProcessedChunks, rec.UpdatedAt)
		if err != nil {
			return upload.Session{}, errors.Wrap(err, "recording chunk")
		}
	}

	if err = tx.Commit(); err != nil {
		return upload.Session{}, errors.Wrap(err, "committing chunk")
	}
	return sess, nil
}

func (repo uploadRepository) TransitionStatus(ctx context.Context, id int64, from, to upload.Status) (bool, error) {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE upload_session SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return false, errors.Wrap(err, "updating session status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "updating session status")
	}
	return n == 1, nil
}

func (repo uploadRepository) CompleteMerge(ctx context.Context, id int64, finalPath string) (upload.Session, error) {
	var rec sessionRecord
	err := repo.db.GetContext(ctx, &rec,
		`UPDATE upload_session SET status = $2, final_path = $3, updated_at = $4 WHERE id = $1 RETURNING *`,
		id, string(upload.StatusCompleted), finalPath, time.Now().UTC())
	if err != nil {
		return upload.Session{}, repo.trapNoRowsErr(err, "completing session")
	}
	return repo.unboil(rec), nil
}

func (repo uploadRepository) exec(ctx context.Context, msg, q string, args ...interface{}) error {
	res, err := repo.db.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return upload.ErrNotFound
	}
	return nil
}

func (repo uploadRepository) FailSession(ctx context.Context, id int64, msg string) error {
	return repo.exec(ctx, "failing session",
		`UPDATE upload_session SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1`,
		id, string(upload.StatusFailed), msg, time.Now().UTC())
}

func (repo uploadRepository) UpdateIngestProgress(ctx context.Context, id int64, processed, total int) error {
	return repo.exec(ctx, "updating ingestion progress",
		`UPDATE upload_session SET processed_rows = $2, total_rows = $3, updated_at = $4 WHERE id = $1`,
		id, processed, total, time.Now().UTC())
}

func (repo uploadRepository) FinishIngest(ctx context.Context, id int64, ingestErr error) error {
	now := time.Now().UTC()
	if ingestErr != nil {
		return repo.FailSession(ctx, id, ingestErr.Error())
	}
	return repo.exec(ctx, "finishing ingestion",
		`UPDATE upload_session SET ingested_at = $2, error_message = NULL, updated_at = $2 WHERE id = $1`,
		id, now)
}
