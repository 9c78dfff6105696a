package core

import (
	"context"
	"errors"
)

var ErrQueueClosed = errors.New("job queue closed")

type (
	// IngestTask asks the ingestion worker to load a merged upload into dataset rows.
	IngestTask struct {
		SessionID int64
		Path      string
	}

	// PurgeTask asks the cleanup worker to physically remove soft-deleted rows.
	PurgeTask struct {
		FileID int64
		RowIDs []int64
	}

	// JobQueue hands tasks over to background workers; enqueueing never waits for the task to run.
	JobQueue interface {
		EnqueueIngest(ctx context.Context, task IngestTask) error
		EnqueuePurge(ctx context.Context, task PurgeTask) error
	}
)
