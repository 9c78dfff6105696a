package ingest

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/dataset"
	"github.com/trezcool/tabula/core/upload"
)

// Ingester turns merged uploads into dataset rows.
type Ingester struct {
	sessions  upload.Repository
	rows      dataset.Repository
	mailSvc   core.EmailService
	log       core.Logger
	metrics   core.Metrics
	batchSize int
	operator  *mail.Address
}

func New(
	sessions upload.Repository,
	rows dataset.Repository,
	mailSvc core.EmailService,
	logger core.Logger,
	metrics core.Metrics,
	conf *core.Config,
) *Ingester {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	ing := &Ingester{
		sessions:  sessions,
		rows:      rows,
		mailSvc:   mailSvc,
		log:       logger,
		metrics:   metrics,
		batchSize: conf.Ingest.BatchSize,
	}
	if ing.batchSize <= 0 {
		ing.batchSize = 500
	}
	if op, ok := conf.Email.Operator(); ok {
		ing.operator = &op
	}
	return ing
}

// Ingest counts the rows of the task's file, then loads them in batches, recording progress after each one.
// A session that was already ingested is left untouched.
func (ing *Ingester) Ingest(ctx context.Context, task core.IngestTask) error {
	sess, err := ing.sessions.GetSessionByID(ctx, task.SessionID)
	if err != nil {
		return errors.Wrap(err, "loading session")
	}
	if sess.IngestedAt.Valid {
		ing.log.Warn("ingest: session already ingested", map[string]interface{}{"session_id": task.SessionID, "path": task.Path})
		return nil
	}
	return ing.run(ctx, sess, task.Path)
}

// Reingest loads the task's file even if the session was ingested before; the caller clears the old rows.
func (ing *Ingester) Reingest(ctx context.Context, task core.IngestTask) error {
	sess, err := ing.sessions.GetSessionByID(ctx, task.SessionID)
	if err != nil {
		return errors.Wrap(err, "loading session")
	}
	return ing.run(ctx, sess, task.Path)
}

func (ing *Ingester) run(ctx context.Context, sess upload.Session, path string) error {
	lc := map[string]interface{}{"session_id": sess.ID, "path": path}

	if err := ing.load(ctx, sess, path); err != nil {
		ing.metrics.IngestFinished("error")
		ing.log.Error("ingest: failed", err, lc)
		// record the failure even when ctx was cancelled
		bctx := context.WithoutCancel(ctx)
		if ferr := ing.sessions.FinishIngest(bctx, sess.ID, err); ferr != nil {
			ing.log.Error("ingest: could not record failure", ferr, lc)
		}
		if cur, gerr := ing.sessions.GetSessionByID(bctx, sess.ID); gerr == nil {
			sess = cur
		}
		ing.notifyFailure(sess, err)
		return err
	}

	ing.metrics.IngestFinished("ok")
	ing.log.Info("ingest: done", lc)
	return errors.Wrap(ing.sessions.FinishIngest(ctx, sess.ID, nil), "finishing ingestion")
}

func (ing *Ingester) load(ctx context.Context, sess upload.Session, path string) error {
	src := OpenSource(path)

	total := 0
	if err := src.Each(func(dataset.Cells) error {
		total++
		return nil
	}); err != nil {
		return err
	}
	if err := ing.sessions.UpdateIngestProgress(ctx, sess.ID, 0, total); err != nil {
		return errors.Wrap(err, "recording row count")
	}

	processed := 0
	batch := make([]dataset.Cells, 0, ing.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ing.rows.InsertRows(ctx, sess.ID, batch); err != nil {
			return errors.Wrap(err, "inserting rows")
		}
		processed += len(batch)
		ing.metrics.RowsIngested(len(batch))
		batch = batch[:0]
		return errors.Wrap(ing.sessions.UpdateIngestProgress(ctx, sess.ID, processed, total), "recording progress")
	}

	err := src.Each(func(cells dataset.Cells) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = append(batch, cells)
		if len(batch) >= ing.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (ing *Ingester) notifyFailure(sess upload.Session, cause error) {
	if ing.operator == nil || ing.mailSvc == nil {
		return
	}
	ing.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{*ing.operator},
		Subject: "Dataset ingestion failed",
		Body: fmt.Sprintf(
			"Ingestion of %q (file %d, upload %s) failed after %d of %d rows:\n\n%v\n",
			sess.OriginalFileName, sess.ID, sess.UploadID, sess.ProcessedRows, sess.TotalRows, cause,
		),
	})
}
