package upload

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/tabula/core"
)

type (
	Repository interface {
		// CreateSession inserts a new session; it fails with ErrConflict if the upload id is taken.
		CreateSession(ctx context.Context, sess Session) (Session, error)
		GetSession(ctx context.Context, uploadID string) (Session, error)
		GetSessionByID(ctx context.Context, id int64) (Session, error)
		// RecordChunk adds index to the session's received set while holding the session's row lock.
		RecordChunk(ctx context.Context, id int64, index int) (Session, error)
		// TransitionStatus moves the session from `from` to `to`; it reports false if the session was not in `from`.
		TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error)
		CompleteMerge(ctx context.Context, id int64, finalPath string) (Session, error)
		FailSession(ctx context.Context, id int64, msg string) error
		UpdateIngestProgress(ctx context.Context, id int64, processed, total int) error
		// FinishIngest stamps the ingestion time, or marks the session failed when ingestErr is set.
		FinishIngest(ctx context.Context, id int64, ingestErr error) error
	}

	Service struct {
		repo    Repository
		store   ChunkStore
		merger  *Merger
		jobs    core.JobQueue
		log     core.Logger
		metrics core.Metrics
		now     func() time.Time
	}
)

func NewService(
	repo Repository,
	store ChunkStore,
	merger *Merger,
	jobs core.JobQueue,
	logger core.Logger,
	metrics core.Metrics,
) *Service {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &Service{
		repo:    repo,
		store:   store,
		merger:  merger,
		jobs:    jobs,
		log:     logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func logContext(uploadID string, index int, sessionID int64) map[string]interface{} {
	return map[string]interface{}{"upload_id": uploadID, "chunk_index": index, "session_id": sessionID}
}

// ReceiveChunk stores one chunk, records its arrival and, when it completes the upload,
// merges the chunks and schedules ingestion.
// Storage & merge failures are reported through ChunkReceipt.Success/Message rather than as errors.
func (svc *Service) ReceiveChunk(ctx context.Context, nc NewChunk, chunk io.Reader) (ChunkReceipt, error) {
	nc.Clean()

	sess, err := svc.resolveSession(ctx, nc)
	if err != nil {
		svc.log.Warn("chunk upload: could not resolve session", err, logContext(nc.UploadID, nc.ChunkIndex, 0))
		return ChunkReceipt{}, err
	}
	lc := logContext(sess.UploadID, nc.ChunkIndex, sess.ID)

	if sess.TotalChunks != nc.TotalChunks {
		return ChunkReceipt{}, core.NewFieldError("totalChunks", "does not match the upload session")
	}
	if nc.ChunkIndex >= sess.TotalChunks {
		return ChunkReceipt{}, core.NewFieldError("chunkIndex", "must be less than totalChunks")
	}

	rcpt := ChunkReceipt{FileID: sess.ID, UploadID: sess.UploadID, ChunkIndex: nc.ChunkIndex}

	if r, settled := settledReceipt(sess, rcpt); settled {
		return r, nil
	}

	cr := &countingReader{r: chunk}
	written, err := svc.store.Save(sess.ID, nc.ChunkIndex, cr)
	if err != nil {
		svc.metrics.ChunkReceived("error", cr.n)
		svc.log.Error("chunk upload: could not store chunk", err, lc)
		rcpt.Message = "failed to store chunk: " + err.Error()
		return rcpt, nil
	}
	if written {
		svc.metrics.ChunkReceived("stored", cr.n)
	} else {
		svc.metrics.ChunkReceived("duplicate", cr.n)
	}

	sess, err = svc.repo.RecordChunk(ctx, sess.ID, nc.ChunkIndex)
	if err != nil {
		svc.log.Error("chunk upload: could not record chunk", err, lc)
		return ChunkReceipt{}, errors.Wrap(err, "recording chunk")
	}
	// a merge started after the session was read; its chunk directory may already be gone
	if r, settled := settledReceipt(sess, rcpt); settled {
		if written {
			if err := svc.store.Discard(sess.ID, nc.ChunkIndex); err != nil {
				svc.log.Error("chunk upload: could not discard late chunk", err, lc)
			}
		}
		return r, nil
	}

	rcpt.Success = true
	rcpt.Progress = sess.UploadProgress()
	if !sess.IsComplete() {
		return rcpt, nil
	}
	rcpt.IsComplete = true

	won, err := svc.repo.TransitionStatus(ctx, sess.ID, StatusProcessing, StatusMerging)
	if err != nil {
		svc.log.Error("chunk upload: could not lock session for merge", err, lc)
		return ChunkReceipt{}, errors.Wrap(err, "starting merge")
	}
	if !won {
		return rcpt, nil
	}

	// the merge must run to completion even if the client goes away
	return svc.mergeAndDispatch(context.WithoutCancel(ctx), sess, rcpt)
}

// settledReceipt answers chunks sent to a session that no longer accepts any.
func settledReceipt(sess Session, rcpt ChunkReceipt) (ChunkReceipt, bool) {
	switch sess.Status {
	case StatusFailed:
		rcpt.Message = "upload failed"
		if sess.ErrorMessage.Valid {
			rcpt.Message += ": " + sess.ErrorMessage.String
		}
		return rcpt, true
	case StatusMerging, StatusCompleted:
		// every chunk was already received; late retries are acknowledged as-is
		rcpt.Success = true
		rcpt.IsComplete = true
		rcpt.Progress = sess.UploadProgress()
		return rcpt, true
	}
	return rcpt, false
}

func (svc *Service) resolveSession(ctx context.Context, nc NewChunk) (Session, error) {
	if nc.ChunkIndex == 0 {
		if nc.UploadID == "" {
			now := svc.now()
			return svc.repo.CreateSession(ctx, Session{
				UploadID:         uuid.New().String(),
				OriginalFileName: nc.FileName,
				StoredFileName:   StoredName(nc.FileName, now),
				FileSize:         nc.FileSize,
				TotalChunks:      nc.TotalChunks,
				ReceivedChunks:   []int{},
				Status:           StatusProcessing,
				CreatedAt:        now,
				UpdatedAt:        now,
			})
		}
		// a retried first chunk; creation never accepts a client supplied id
		sess, err := svc.repo.GetSession(ctx, nc.UploadID)
		if errors.Cause(err) == ErrNotFound {
			return Session{}, ErrConflict
		}
		return sess, err
	}

	if nc.UploadID == "" {
		return Session{}, core.NewFieldError("uploadId", "is required for every chunk after the first one")
	}
	sess, err := svc.repo.GetSession(ctx, nc.UploadID)
	if errors.Cause(err) == ErrNotFound {
		return Session{}, core.NewFieldError("uploadId", "unknown upload")
	}
	return sess, err
}

func (svc *Service) mergeAndDispatch(ctx context.Context, sess Session, rcpt ChunkReceipt) (ChunkReceipt, error) {
	lc := logContext(sess.UploadID, rcpt.ChunkIndex, sess.ID)
	start := time.Now()

	path, err := svc.merger.Merge(ctx, sess.ID, sess.TotalChunks, sess.StoredFileName)
	if err != nil {
		rcpt.Success = false
		rcpt.Message = "failed to merge chunks: " + err.Error()

		if IsMissingChunk(err) {
			svc.metrics.MergeFinished("missing_chunk", time.Since(start))
			svc.log.Error("chunk upload: merge aborted, chunk missing", err, lc)
			if _, terr := svc.repo.TransitionStatus(ctx, sess.ID, StatusMerging, StatusProcessing); terr != nil {
				svc.log.Error("chunk upload: could not release merge lock", terr, lc)
			}
			return rcpt, nil
		}

		svc.metrics.MergeFinished("error", time.Since(start))
		svc.log.Error("chunk upload: merge failed", err, lc)
		if ferr := svc.repo.FailSession(ctx, sess.ID, err.Error()); ferr != nil {
			svc.log.Error("chunk upload: could not mark session failed", ferr, lc)
		}
		return rcpt, nil
	}
	svc.metrics.MergeFinished("ok", time.Since(start))

	if _, err := svc.repo.CompleteMerge(ctx, sess.ID, path); err != nil {
		svc.log.Error("chunk upload: could not complete session", err, lc)
		return ChunkReceipt{}, errors.Wrap(err, "completing merge")
	}

	if err := svc.jobs.EnqueueIngest(ctx, core.IngestTask{SessionID: sess.ID, Path: path}); err != nil {
		svc.log.Error("chunk upload: could not schedule ingestion", err, lc)
		rcpt.Message = "upload complete, ingestion could not be scheduled"
		return rcpt, nil
	}
	svc.log.Info("chunk upload: merged & scheduled ingestion", lc)
	return rcpt, nil
}

// Progress reports the upload & ingestion progress of a session.
func (svc *Service) Progress(ctx context.Context, fileID int64) (Progress, error) {
	sess, err := svc.repo.GetSessionByID(ctx, fileID)
	if err != nil {
		return Progress{}, err
	}
	return NewProgress(sess), nil
}

func (svc *Service) GetByID(ctx context.Context, fileID int64) (Session, error) {
	return svc.repo.GetSessionByID(ctx, fileID)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
