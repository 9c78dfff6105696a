package sqlxrepos

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/tabula/core/dataset"
	"github.com/trezcool/tabula/core/upload"
	"github.com/trezcool/tabula/storage/database"
)

// openTestDB connects to TEST_DATABASE_URL, migrates it and empties the tables.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.OpenURL(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	_, err = db.Exec(`TRUNCATE dataset_row_note, dataset_row, upload_session RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newSession(t *testing.T, repo upload.Repository, total int) upload.Session {
	t.Helper()
	now := time.Now().UTC()
	sess, err := repo.CreateSession(context.Background(), upload.Session{
		UploadID:         uuid.New().String(),
		OriginalFileName: "people.csv",
		StoredFileName:   upload.StoredName("people.csv", now),
		FileSize:         10,
		TotalChunks:      total,
		ReceivedChunks:   []int{},
		Status:           upload.StatusProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	require.NoError(t, err)
	return sess
}

func TestUploadRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	sess := newSession(t, repo, 3)
	assert.NotZero(t, sess.ID)

	dup := sess
	dup.ID = 0
	_, err := repo.CreateSession(ctx, dup)
	assert.Equal(t, upload.ErrConflict, err)

	got, err := repo.GetSession(ctx, sess.UploadID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = repo.GetSessionByID(ctx, sess.ID+100)
	assert.Equal(t, upload.ErrNotFound, err)

	t.Run("record chunk", func(t *testing.T) {
		for _, idx := range []int{2, 0, 2} {
			_, err := repo.RecordChunk(ctx, sess.ID, idx)
			require.NoError(t, err)
		}
		got, err := repo.GetSessionByID(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 2}, got.ReceivedChunks)
		assert.False(t, got.IsComplete())
	})

	t.Run("transition status", func(t *testing.T) {
		won, err := repo.TransitionStatus(ctx, sess.ID, upload.StatusProcessing, upload.StatusMerging)
		require.NoError(t, err)
		assert.True(t, won)
		won, err = repo.TransitionStatus(ctx, sess.ID, upload.StatusProcessing, upload.StatusMerging)
		require.NoError(t, err)
		assert.False(t, won)

		done, err := repo.CompleteMerge(ctx, sess.ID, "/tmp/merged.csv")
		require.NoError(t, err)
		assert.Equal(t, upload.StatusCompleted, done.Status)
		assert.Equal(t, "/tmp/merged.csv", done.FinalPath)
	})

	t.Run("ingestion", func(t *testing.T) {
		require.NoError(t, repo.UpdateIngestProgress(ctx, sess.ID, 5, 10))
		require.NoError(t, repo.FinishIngest(ctx, sess.ID, nil))
		got, err := repo.GetSessionByID(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.ProcessedRows)
		assert.True(t, got.IngestedAt.Valid)
	})
}

func TestUploadRepository_ConcurrentRecordChunk(t *testing.T) {
	db := openTestDB(t)
	repo := NewUploadRepository(db)
	const total = 25
	sess := newSession(t, repo, total)

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := repo.RecordChunk(context.Background(), sess.ID, idx)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := repo.GetSessionByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.ReceivedChunks, total)
	assert.True(t, got.IsComplete())
}

func TestDatasetRepository(t *testing.T) {
	db := openTestDB(t)
	sessions := NewUploadRepository(db)
	repo := NewDatasetRepository(db)
	ctx := context.Background()
	sess := newSession(t, sessions, 1)

	require.NoError(t, repo.InsertRows(ctx, sess.ID, []dataset.Cells{
		{"name", "note"},
		{"Ada", `50% "off"`},
		{"Grace", "plain"},
		{"Linus", "under_score"},
	}))

	header, err := repo.HeaderRow(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, dataset.Cells{"name", "note"}, header.Data)

	rows, total, err := repo.ListRows(ctx, sess.ID, header.ID, dataset.ListQuery{Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, rows, 3)
	ada, grace, linus := rows[0], rows[1], rows[2]

	rows, total, err = repo.ListRows(ctx, sess.ID, header.ID, dataset.ListQuery{Page: 1, PerPage: 10, Search: "%"})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "wildcards are matched literally")
	assert.Equal(t, ada.ID, rows[0].ID)

	n, err := repo.SoftDeleteRows(ctx, sess.ID, []int64{grace.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := repo.RowsAfter(ctx, sess.ID, header.ID, 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, linus.ID, after[1].ID)

	owned, err := repo.FilterRowIDs(ctx, sess.ID, []int64{grace.ID, 99999})
	require.NoError(t, err)
	assert.Equal(t, []int64{grace.ID}, owned)

	require.NoError(t, repo.UpsertNote(ctx, ada.ID, "one", time.Now()))
	require.NoError(t, repo.UpsertNote(ctx, ada.ID, "two", time.Now()))
	got, err := repo.GetRow(ctx, sess.ID, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "two", got.Note.String)

	n, err = repo.PurgeRows(ctx, sess.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = repo.GetRow(ctx, sess.ID, grace.ID)
	assert.Equal(t, dataset.ErrNotFound, err)
}
