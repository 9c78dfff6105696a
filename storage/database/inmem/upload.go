package inmemdb

import (
	"context"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tabula/core/upload"
)

type uploadRepository struct {
	db *sessionTable
}

var _ upload.Repository = (*uploadRepository)(nil)

func NewUploadRepository(db *DB) upload.Repository {
	return &uploadRepository{db: db.session}
}

func copySession(s upload.Session) upload.Session {
	s.ReceivedChunks = append([]int{}, s.ReceivedChunks...)
	return s
}

func (repo *uploadRepository) entry(id int64) (*sessionEntry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if e, ok := repo.db.table[id]; ok {
		return e, nil
	}
	return nil, upload.ErrNotFound
}

// update runs fn on the session while holding its row lock.
func (repo *uploadRepository) update(id int64, fn func(s *upload.Session) error) (upload.Session, error) {
	e, err := repo.entry(id)
	if err != nil {
		return upload.Session{}, err
	}
	e.Lock()
	defer e.Unlock()
	if err := fn(&e.sess); err != nil {
		return upload.Session{}, err
	}
	e.sess.UpdatedAt = time.Now().UTC()
	return copySession(e.sess), nil
}

func (repo *uploadRepository) CreateSession(_ context.Context, sess upload.Session) (upload.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.byUID[sess.UploadID]; ok {
		return upload.Session{}, upload.ErrConflict
	}
	repo.db.pk++
	sess.ID = repo.db.pk
	if sess.ReceivedChunks == nil {
		sess.ReceivedChunks = []int{}
	}
	repo.db.table[sess.ID] = &sessionEntry{sess: copySession(sess)}
	repo.db.byUID[sess.UploadID] = sess.ID
	return sess, nil
}

func (repo *uploadRepository) GetSession(ctx context.Context, uploadID string) (upload.Session, error) {
	repo.db.RLock()
	id, ok := repo.db.byUID[uploadID]
	repo.db.RUnlock()
	if !ok {
		return upload.Session{}, upload.ErrNotFound
	}
	return repo.GetSessionByID(ctx, id)
}

func (repo *uploadRepository) GetSessionByID(_ context.Context, id int64) (upload.Session, error) {
	e, err := repo.entry(id)
	if err != nil {
		return upload.Session{}, err
	}
	e.Lock()
	defer e.Unlock()
	return copySession(e.sess), nil
}

func (repo *uploadRepository) RecordChunk(_ context.Context, id int64, index int) (upload.Session, error) {
	return repo.update(id, func(s *upload.Session) error {
		s.AddChunk(index)
		return nil
	})
}

func (repo *uploadRepository) TransitionStatus(_ context.Context, id int64, from, to upload.Status) (bool, error) {
	won := false
	_, err := repo.update(id, func(s *upload.Session) error {
		if s.Status == from {
			s.Status = to
			won = true
		}
		return nil
	})
	return won, err
}

func (repo *uploadRepository) CompleteMerge(_ context.Context, id int64, finalPath string) (upload.Session, error) {
	return repo.update(id, func(s *upload.Session) error {
		s.Status = upload.StatusCompleted
		s.FinalPath = finalPath
		return nil
	})
}

func (repo *uploadRepository) FailSession(_ context.Context, id int64, msg string) error {
	_, err := repo.update(id, func(s *upload.Session) error {
		s.Status = upload.StatusFailed
		s.ErrorMessage = null.StringFrom(msg)
		return nil
	})
	return err
}

func (repo *uploadRepository) UpdateIngestProgress(_ context.Context, id int64, processed, total int) error {
	_, err := repo.update(id, func(s *upload.Session) error {
		s.ProcessedRows = processed
		s.TotalRows = total
		return nil
	})
	return err
}

func (repo *uploadRepository) FinishIngest(_ context.Context, id int64, ingestErr error) error {
	_, err := repo.update(id, func(s *upload.Session) error {
		if ingestErr != nil {
			s.Status = upload.StatusFailed
			s.ErrorMessage = null.StringFrom(ingestErr.Error())
			return nil
		}
		s.ErrorMessage = null.String{}
		s.IngestedAt = null.TimeFrom(time.Now().UTC())
		return nil
	})
	return err
}
