package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tabula/core/dataset"
)

type rowRecord struct {
	ID        int64         `db:"id"`
	FileID    int64         `db:"file_id"`
	RowData   dataset.Cells `db:"row_data"`
	Status    string        `db:"status"`
	Note      null.String   `db:"note"`
	CreatedAt time.Time     `db:"created_at"`
}

const selectRows = `SELECT r.id, r.file_id, r.row_data, r.status, n.note, r.created_at
	FROM dataset_row r LEFT JOIN dataset_row_note n ON n.row_id = r.id`

type datasetRepository struct {
	db *sqlx.DB
}

var _ dataset.Repository = (*datasetRepository)(nil) // interface compliance check

func NewDatasetRepository(db *sqlx.DB) dataset.Repository {
	return &datasetRepository{db: db}
}

func (repo datasetRepository) unboil(rec rowRecord) dataset.Row {
	return dataset.Row{
		ID:        rec.ID,
		FileID:    rec.FileID,
		Data:      rec.RowData,
		Status:    dataset.RowStatus(rec.Status),
		Note:      rec.Note,
		CreatedAt: rec.CreatedAt.UTC(),
	}
}

func (repo datasetRepository) unboilSlice(recs []rowRecord) []dataset.Row {
	rows := make([]dataset.Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, repo.unboil(rec))
	}
	return rows
}

// trapNoRowsErr maps psql "no rows" err to dataset.ErrNotFound
func (repo datasetRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return dataset.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// likePattern escapes LIKE wildcards in s and wraps it for a substring match.
func likePattern(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}

func (repo datasetRepository) HeaderRow(ctx context.Context, fileID int64) (dataset.Row, error) {
	var rec rowRecord
	err := repo.db.GetContext(ctx, &rec,
		selectRows+` WHERE r.file_id = $1 AND r.status = $2 ORDER BY r.id LIMIT 1`,
		fileID, string(dataset.RowComplete))
	if err != nil {
		return dataset.Row{}, repo.trapNoRowsErr(err, "finding header row")
	}
	return repo.unboil(rec), nil
}

func (repo datasetRepository) ListRows(ctx context.Context, fileID, headerID int64, q dataset.ListQuery) ([]dataset.Row, int, error) {
	where := ` WHERE r.file_id = $1 AND r.id <> $2 AND r.status = $3`
	args := []interface{}{fileID, headerID, string(dataset.RowComplete)}
	if q.Search != "" {
		where += ` AND r.row_data::text ILIKE $4 ESCAPE '\'`
		args = append(args, likePattern(q.Search))
	}

	var total int
	if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM dataset_row r`+where, args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting rows")
	}

	var recs []rowRecord
	limit := len(args) + 1
	query := selectRows + where + ` ORDER BY r.id LIMIT $` + strconv.Itoa(limit) + ` OFFSET $` + strconv.Itoa(limit+1)
	args = append(args, q.PerPage, q.Offset())
	if err := repo.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, 0, errors.Wrap(err, "listing rows")
	}
	return repo.unboilSlice(recs), total, nil
}

func (repo datasetRepository) GetRow(ctx context.Context, fileID, rowID int64) (dataset.Row, error) {
	var rec rowRecord
	err := repo.db.GetContext(ctx, &rec, selectRows+` WHERE r.file_id = $1 AND r.id = $2`, fileID, rowID)
	if err != nil {
		return dataset.Row{}, repo.trapNoRowsErr(err, "finding row")
	}
	return repo.unboil(rec), nil
}

func (repo datasetRepository) FilterRowIDs(ctx context.Context, fileID int64, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var owned []int64
	err := repo.db.SelectContext(ctx, &owned,
		`SELECT id FROM dataset_row WHERE file_id = $1 AND id = ANY($2) ORDER BY id`,
		fileID, pq.Int64Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "filtering rows")
	}
	return owned, nil
}

func (repo datasetRepository) SoftDeleteRows(ctx context.Context, fileID int64, ids []int64) (int, error) {
	query, args, err := sqlx.In(
		`UPDATE dataset_row SET status = ? WHERE file_id = ? AND status = ? AND id IN (?)`,
		string(dataset.RowDeleted), fileID, string(dataset.RowComplete), ids)
	if err != nil {
		return 0, errors.Wrap(err, "building delete query")
	}
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(query), args...)
	if err != nil {
		return 0, errors.Wrap(err, "soft deleting rows")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "soft deleting rows")
}

func (repo datasetRepository) SelectedRows(ctx context.Context, fileID, headerID int64, ids []int64) ([]dataset.Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var recs []rowRecord
	err := repo.db.SelectContext(ctx, &recs,
		selectRows+` WHERE r.file_id = $1 AND r.id <> $2 AND r.status = $3 AND r.id = ANY($4) ORDER BY r.id`,
		fileID, headerID, string(dataset.RowComplete), pq.Int64Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "selecting rows")
	}
	return repo.unboilSlice(recs), nil
}

func (repo datasetRepository) RowsAfter(ctx context.Context, fileID, afterID int64, limit int) ([]dataset.Row, error) {
	var recs []rowRecord
	err := repo.db.SelectContext(ctx, &recs,
		selectRows+` WHERE r.file_id = $1 AND r.id > $2 AND r.status = $3 ORDER BY r.id LIMIT $4`,
		fileID, afterID, string(dataset.RowComplete), limit)
	if err != nil {
		return nil, errors.Wrap(err, "reading rows")
	}
	return repo.unboilSlice(recs), nil
}

func (repo datasetRepository) UpsertNote(ctx context.Context, rowID int64, text string, at time.Time) error {
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO dataset_row_note (row_id, note, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (row_id) DO UPDATE SET note = EXCLUDED.note, updated_at = EXCLUDED.updated_at`,
		rowID, text, at.UTC())
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == "23503" { // foreign_key_violation
		return dataset.ErrNotFound
	}
	return errors.Wrap(err, "saving note")
}

// InsertRows bulk loads rows with COPY inside one transaction.
func (repo datasetRepository) InsertRows(ctx context.Context, fileID int64, rows []dataset.Cells) (err error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("dataset_row", "file_id", "row_data", "status"))
	if err != nil {
		return errors.Wrap(err, "preparing copy")
	}
	for _, cells := range rows {
		raw, verr := cells.Value()
		if verr != nil {
			_ = stmt.Close()
			return errors.Wrap(verr, "encoding row")
		}
		// COPY sends text; the jsonb column parses it
		if _, err = stmt.ExecContext(ctx, fileID, string(raw.([]byte)), string(dataset.RowComplete)); err != nil {
			_ = stmt.Close()
			return errors.Wrap(err, "copying row")
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return errors.Wrap(err, "flushing copy")
	}
	if err = stmt.Close(); err != nil {
		return errors.Wrap(err, "closing copy")
	}
	return errors.Wrap(tx.Commit(), "committing rows")
}

// PurgeRows removes deleted rows among ids, or all of the file's deleted rows when ids is empty.
// Notes go with them (ON DELETE CASCADE).
func (repo datasetRepository) PurgeRows(ctx context.Context, fileID int64, ids []int64) (int, error) {
	q := `DELETE FROM dataset_row WHERE file_id = $1 AND status = $2`
	args := []interface{}{fileID, string(dataset.RowDeleted)}
	if len(ids) > 0 {
		q += ` AND id = ANY($3)`
		args = append(args, pq.Int64Array(ids))
	}
	res, err := repo.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, errors.Wrap(err, "purging rows")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "purging rows")
}

func (repo datasetRepository) DeleteFileRows(ctx context.Context, fileID int64) (int, error) {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM dataset_row WHERE file_id = $1`, fileID)
	if err != nil {
		return 0, errors.Wrap(err, "deleting file rows")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "deleting file rows")
}
