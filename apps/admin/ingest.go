package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/upload"
)

var errNotMerged = errors.New("file has not been merged yet")

// ingest clears a file's rows and loads them again from the merged upload.
func (cli *commandLine) ingest(fileID int64) error {
	ctx := context.Background()

	sess, err := cli.sessions.GetSessionByID(ctx, fileID)
	if err != nil {
		return err
	}
	if sess.FinalPath == "" {
		return errNotMerged
	}
	if sess.Status == upload.StatusFailed {
		if _, err = cli.sessions.TransitionStatus(ctx, sess.ID, upload.StatusFailed, upload.StatusCompleted); err != nil {
			return errors.Wrap(err, "resetting session status")
		}
	}

	n, err := cli.rows.DeleteFileRows(ctx, sess.ID)
	if err != nil {
		return errors.Wrap(err, "clearing rows")
	}
	if err = cli.sessions.UpdateIngestProgress(ctx, sess.ID, 0, 0); err != nil {
		return errors.Wrap(err, "resetting progress")
	}
	fmt.Fprintf(cli.out, "cleared %d rows of file %d\n", n, sess.ID)

	if err = cli.ingester.Reingest(ctx, core.IngestTask{SessionID: sess.ID, Path: sess.FinalPath}); err != nil {
		return err
	}

	sess, err = cli.sessions.GetSessionByID(ctx, sess.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "ingested %d rows of file %d\n", sess.ProcessedRows, sess.ID)
	return nil
}
