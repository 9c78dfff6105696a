package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/dataset"
	"github.com/trezcool/tabula/core/upload"
)

// Logger discards everything.
type Logger struct{}

var _ core.Logger = Logger{}

func (Logger) Debug(string, ...interface{}) {}
func (Logger) Info(string, ...interface{})  {}
func (Logger) Warn(string, ...interface{})  {}
func (Logger) Error(string, ...interface{}) {}
func (Logger) Fatal(string, ...interface{}) {}

// JobQueue records enqueued tasks instead of running them.
type JobQueue struct {
	mu      sync.Mutex
	ingests []core.IngestTask
	purges  []core.PurgeTask
}

var _ core.JobQueue = (*JobQueue)(nil)

func (q *JobQueue) EnqueueIngest(_ context.Context, task core.IngestTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ingests = append(q.ingests, task)
	return nil
}

func (q *JobQueue) EnqueuePurge(_ context.Context, task core.PurgeTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.purges = append(q.purges, task)
	return nil
}

func (q *JobQueue) Ingests() []core.IngestTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]core.IngestTask{}, q.ingests...)
}

func (q *JobQueue) Purges() []core.PurgeTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]core.PurgeTask{}, q.purges...)
}

// CreateDataset stores a completed upload session and its rows; the first row is the header.
func CreateDataset(
	t *testing.T,
	sessions upload.Repository,
	rows dataset.Repository,
	fileName string,
	data ...dataset.Cells,
) upload.Session {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	sess, err := sessions.CreateSession(ctx, upload.Session{
		UploadID:         uuid.New().String(),
		OriginalFileName: fileName,
		StoredFileName:   upload.StoredName(fileName, now),
		FileSize:         1,
		TotalChunks:      1,
		ReceivedChunks:   []int{0},
		Status:           upload.StatusCompleted,
		TotalRows:        len(data),
		ProcessedRows:    len(data),
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		t.Fatalf("CreateDataset() failed: %v", err)
	}
	if len(data) > 0 {
		if err = rows.InsertRows(ctx, sess.ID, data); err != nil {
			t.Fatalf("CreateDataset() failed: %v", err)
		}
	}
	return sess
}

// RowIDs returns the ids of the file's rows in id order, header included.
func RowIDs(t *testing.T, rows dataset.Repository, fileID int64) []int64 {
	t.Helper()
	ctx := context.Background()

	header, err := rows.HeaderRow(ctx, fileID)
	if err != nil {
		t.Fatalf("RowIDs() failed: %v", err)
	}
	ids := []int64{header.ID}
	rest, err := rows.RowsAfter(ctx, fileID, header.ID, 1<<20)
	if err != nil {
		t.Fatalf("RowIDs() failed: %v", err)
	}
	for _, r := range rest {
		ids = append(ids, r.ID)
	}
	return ids
}
