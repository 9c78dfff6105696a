package inmemdb

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tabula/core/dataset"
)

type datasetRepository struct {
	db *rowTable
}

var _ dataset.Repository = (*datasetRepository)(nil)

func NewDatasetRepository(db *DB) dataset.Repository {
	return &datasetRepository{db: db.row}
}

func copyRow(r dataset.Row) dataset.Row {
	r.Data = append(dataset.Cells{}, r.Data...)
	return r
}

// each calls fn for the file's rows in id order until fn returns false.
func (repo *datasetRepository) each(fileID int64, fn func(r *dataset.Row) bool) {
	for _, id := range repo.db.order {
		r := repo.db.table[id]
		if r.FileID != fileID {
			continue
		}
		if !fn(r) {
			return
		}
	}
}

func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func matches(r *dataset.Row, search string) bool {
	if search == "" {
		return true
	}
	// match the JSON text of the cells, unescaped, as row_data::text does
	var raw strings.Builder
	enc := json.NewEncoder(&raw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]string(r.Data)); err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(raw.String()), strings.ToLower(search))
}

func (repo *datasetRepository) HeaderRow(_ context.Context, fileID int64) (dataset.Row, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var (
		header dataset.Row
		found  bool
	)
	repo.each(fileID, func(r *dataset.Row) bool {
		if r.Status == dataset.RowComplete {
			header, found = copyRow(*r), true
			return false
		}
		return true
	})
	if !found {
		return dataset.Row{}, dataset.ErrNotFound
	}
	return header, nil
}

func (repo *datasetRepository) ListRows(_ context.Context, fileID, headerID int64, q dataset.ListQuery) ([]dataset.Row, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	offset := q.Offset()
	rows := make([]dataset.Row, 0, q.PerPage)
	total := 0
	repo.each(fileID, func(r *dataset.Row) bool {
		if r.ID == headerID || r.Status != dataset.RowComplete || !matches(r, q.Search) {
			return true
		}
		if total >= offset && len(rows) < q.PerPage {
			rows = append(rows, copyRow(*r))
		}
		total++
		return true
	})
	return rows, total, nil
}

func (repo *datasetRepository) GetRow(_ context.Context, fileID, rowID int64) (dataset.Row, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	r, ok := repo.db.table[rowID]
	if !ok || r.FileID != fileID {
		return dataset.Row{}, dataset.ErrNotFound
	}
	return copyRow(*r), nil
}

func (repo *datasetRepository) FilterRowIDs(_ context.Context, fileID int64, ids []int64) ([]int64, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	owned := make([]int64, 0, len(ids))
	for _, id := range ids {
		if r, ok := repo.db.table[id]; ok && r.FileID == fileID {
			owned = append(owned, id)
		}
	}
	return owned, nil
}

func (repo *datasetRepository) SoftDeleteRows(_ context.Context, fileID int64, ids []int64) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	n := 0
	for _, id := range ids {
		if r, ok := repo.db.table[id]; ok && r.FileID == fileID && r.Status == dataset.RowComplete {
			r.Status = dataset.RowDeleted
			n++
		}
	}
	return n, nil
}

func (repo *datasetRepository) SelectedRows(_ context.Context, fileID, headerID int64, ids []int64) ([]dataset.Row, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	set := idSet(ids)
	rows := make([]dataset.Row, 0, len(ids))
	repo.each(fileID, func(r *dataset.Row) bool {
		if _, ok := set[r.ID]; ok && r.ID != headerID && r.Status == dataset.RowComplete {
			rows = append(rows, copyRow(*r))
		}
		return true
	})
	return rows, nil
}

func (repo *datasetRepository) RowsAfter(_ context.Context, fileID, afterID int64, limit int) ([]dataset.Row, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rows := make([]dataset.Row, 0, limit)
	repo.each(fileID, func(r *dataset.Row) bool {
		if r.ID > afterID && r.Status == dataset.RowComplete {
			rows = append(rows, copyRow(*r))
		}
		return len(rows) < limit
	})
	return rows, nil
}

func (repo *datasetRepository) UpsertNote(_ context.Context, rowID int64, text string, _ time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	r, ok := repo.db.table[rowID]
	if !ok {
		return dataset.ErrNotFound
	}
	r.Note = null.StringFrom(text)
	return nil
}

func (repo *datasetRepository) InsertRows(_ context.Context, fileID int64, rows []dataset.Cells) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	now := time.Now().UTC()
	for _, cells := range rows {
		repo.db.pk++
		repo.db.table[repo.db.pk] = &dataset.Row{
			ID:        repo.db.pk,
			FileID:    fileID,
			Data:      append(dataset.Cells{}, cells...),
			Status:    dataset.RowComplete,
			CreatedAt: now,
		}
		repo.db.order = append(repo.db.order, repo.db.pk)
	}
	return nil
}

// PurgeRows removes deleted rows among ids, or all of the file's deleted rows when ids is empty.
func (repo *datasetRepository) PurgeRows(_ context.Context, fileID int64, ids []int64) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	set := idSet(ids)
	return repo.remove(func(r *dataset.Row) bool {
		if r.FileID != fileID || r.Status != dataset.RowDeleted {
			return false
		}
		_, ok := set[r.ID]
		return len(ids) == 0 || ok
	}), nil
}

func (repo *datasetRepository) DeleteFileRows(_ context.Context, fileID int64) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	return repo.remove(func(r *dataset.Row) bool { return r.FileID == fileID }), nil
}

func (repo *datasetRepository) remove(match func(r *dataset.Row) bool) int {
	kept := repo.db.order[:0]
	n := 0
	for _, id := range repo.db.order {
		if match(repo.db.table[id]) {
			delete(repo.db.table, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	repo.db.order = kept
	return n
}
