package dataset

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/upload"
)

var (
	ErrNotFound    = errors.New("dataset row not found")
	ErrNotReady    = errors.New("dataset is not ready yet")
	ErrForbidden   = errors.New("the header row cannot be modified")
	ErrNoValidRows = errors.New("no valid rows selected")
	ErrNoData      = errors.New("no data to export")
)

type (
	Repository interface {
		// HeaderRow returns the file's lowest-id complete row.
		HeaderRow(ctx context.Context, fileID int64) (Row, error)
		// ListRows returns complete rows other than headerID, id ascending, with their total count.
		ListRows(ctx context.Context, fileID, headerID int64, q ListQuery) ([]Row, int, error)
		GetRow(ctx context.Context, fileID, rowID int64) (Row, error)
		// FilterRowIDs keeps the ids that belong to fileID, whatever their status.
		FilterRowIDs(ctx context.Context, fileID int64, ids []int64) ([]int64, error)
		// SoftDeleteRows flips complete rows to deleted and returns how many changed.
		SoftDeleteRows(ctx context.Context, fileID int64, ids []int64) (int, error)
		// SelectedRows returns the complete rows among ids, excluding headerID, id ascending.
		SelectedRows(ctx context.Context, fileID, headerID int64, ids []int64) ([]Row, error)
		// RowsAfter returns up to limit complete rows with an id greater than afterID, id ascending.
		RowsAfter(ctx context.Context, fileID, afterID int64, limit int) ([]Row, error)
		UpsertNote(ctx context.Context, rowID int64, text string, at time.Time) error
		InsertRows(ctx context.Context, fileID int64, rows []Cells) error
		// PurgeRows physically deletes the rows among ids still marked deleted.
		PurgeRows(ctx context.Context, fileID int64, ids []int64) (int, error)
		DeleteFileRows(ctx context.Context, fileID int64) (int, error)
	}

	// SessionReader gives access to the upload sessions datasets are ingested from.
	SessionReader interface {
		GetSessionByID(ctx context.Context, id int64) (upload.Session, error)
	}

	Service struct {
		repo            Repository
		sessions        SessionReader
		jobs            core.JobQueue
		log             core.Logger
		metrics         core.Metrics
		exportBatchSize int
	}
)

func NewService(
	repo Repository,
	sessions SessionReader,
	jobs core.JobQueue,
	logger core.Logger,
	metrics core.Metrics,
	exportBatchSize int,
) *Service {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	if exportBatchSize <= 0 {
		exportBatchSize = 1000
	}
	return &Service{
		repo:            repo,
		sessions:        sessions,
		jobs:            jobs,
		log:             logger,
		metrics:         metrics,
		exportBatchSize: exportBatchSize,
	}
}

func fileContext(fileID int64) map[string]interface{} {
	return map[string]interface{}{"file_id": fileID}
}

// Ready returns the session of fileID, or ErrNotReady if it is not completed.
func (svc *Service) Ready(ctx context.Context, fileID int64) (upload.Session, error) {
	sess, err := svc.sessions.GetSessionByID(ctx, fileID)
	if err != nil {
		return upload.Session{}, err
	}
	if sess.Status != upload.StatusCompleted {
		return sess, ErrNotReady
	}
	return sess, nil
}

func (svc *Service) HeaderRow(ctx context.Context, fileID int64) (Row, error) {
	return svc.repo.HeaderRow(ctx, fileID)
}

// ListRows returns one page of data rows with their display transform applied.
func (svc *Service) ListRows(ctx context.Context, fileID int64, q ListQuery) (Page, error) {
	q.Normalize()
	if _, err := svc.Ready(ctx, fileID); err != nil {
		return Page{}, err
	}

	header, err := svc.repo.HeaderRow(ctx, fileID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			// ingestion has not persisted anything yet
			return Page{}, ErrNotReady
		}
		return Page{}, err
	}

	rows, total, err := svc.repo.ListRows(ctx, fileID, header.ID, q)
	if err != nil {
		return Page{}, errors.Wrap(err, "listing rows")
	}
	header.Data = Transform(header.Data)
	return Page{
		Header:     header,
		Rows:       transformRows(rows),
		Pagination: core.NewPagination(q.Page, q.PerPage, total),
	}, nil
}

// BulkSoftDelete hides the selected rows immediately and schedules their physical removal.
func (svc *Service) BulkSoftDelete(ctx context.Context, fileID int64, ids []int64) (DeleteResult, error) {
	header, err := svc.repo.HeaderRow(ctx, fileID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return DeleteResult{}, ErrNoValidRows
		}
		return DeleteResult{}, err
	}

	owned, err := svc.repo.FilterRowIDs(ctx, fileID, uniqueIDs(ids))
	if err != nil {
		return DeleteResult{}, errors.Wrap(err, "filtering rows")
	}

	var res DeleteResult
	accepted := make([]int64, 0, len(owned))
	for _, id := range owned {
		if id == header.ID {
			res.HeaderExcluded = true
			continue
		}
		accepted = append(accepted, id)
	}
	if len(accepted) == 0 {
		return res, ErrNoValidRows
	}
	res.Accepted = len(accepted)

	if res.Deleted, err = svc.repo.SoftDeleteRows(ctx, fileID, accepted); err != nil {
		return DeleteResult{}, errors.Wrap(err, "deleting rows")
	}
	svc.metrics.RowsDeleted(res.Deleted)

	if err := svc.jobs.EnqueuePurge(ctx, PurgeTaskFor(fileID, accepted...)); err != nil {
		// rows are already hidden; `admin purge` catches up
		svc.log.Error("dataset: could not schedule purge", err, fileContext(fileID))
	}
	return res, nil
}

// ExportSelected writes the header followed by the selected data rows as CSV.
func (svc *Service) ExportSelected(ctx context.Context, fileID int64, ids []int64, w io.Writer) error {
	header, err := svc.repo.HeaderRow(ctx, fileID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return ErrNoData
		}
		return err
	}

	rows, err := svc.repo.SelectedRows(ctx, fileID, header.ID, uniqueIDs(ids))
	if err != nil {
		return errors.Wrap(err, "selecting rows")
	}
	if len(rows) == 0 {
		return ErrNoData
	}

	cw := newCSVWriter(w)
	if err := cw.Write(header.Data); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.Data); err != nil {
			return err
		}
	}
	svc.metrics.RowsExported(len(rows))
	return cw.Flush()
}

// ExportAll streams the whole dataset as CSV, reading it in fixed-size batches.
// begin, if set, runs once the header row is found and before anything is written to w.
func (svc *Service) ExportAll(ctx context.Context, fileID int64, w io.Writer, begin func()) error {
	if _, err := svc.Ready(ctx, fileID); err != nil {
		return err
	}
	header, err := svc.repo.HeaderRow(ctx, fileID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return ErrNoData
		}
		return err
	}
	if begin != nil {
		begin()
	}

	cw := newCSVWriter(w)
	if err := cw.Write(header.Data); err != nil {
		return err
	}

	exported := 0
	after := header.ID
	for {
		rows, err := svc.repo.RowsAfter(ctx, fileID, after, svc.exportBatchSize)
		if err != nil {
			return errors.Wrap(err, "reading rows")
		}
		for _, r := range rows {
			if err := cw.Write(r.Data); err != nil {
				return err
			}
		}
		exported += len(rows)
		if err := cw.Flush(); err != nil {
			return err
		}
		if len(rows) < svc.exportBatchSize {
			break
		}
		after = rows[len(rows)-1].ID
	}
	svc.metrics.RowsExported(exported)
	return nil
}

// AttachNote sets the note of a data row, replacing any previous one.
func (svc *Service) AttachNote(ctx context.Context, fileID, rowID int64, text string) error {
	header, err := svc.repo.HeaderRow(ctx, fileID)
	if err != nil {
		return err
	}
	if rowID == header.ID {
		return ErrForbidden
	}
	if _, err := svc.repo.GetRow(ctx, fileID, rowID); err != nil {
		return err
	}
	return svc.repo.UpsertNote(ctx, rowID, core.CleanString(text), time.Now().UTC())
}

// Purge physically removes soft-deleted rows (and their notes).
func (svc *Service) Purge(ctx context.Context, task core.PurgeTask) (int, error) {
	n, err := svc.repo.PurgeRows(ctx, task.FileID, task.RowIDs)
	if err != nil {
		return 0, errors.Wrap(err, "purging rows")
	}
	svc.log.Info("dataset: purged rows", map[string]interface{}{"file_id": task.FileID, "purged": n})
	return n, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
