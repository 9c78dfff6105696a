package upload

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// ChunkStore persists individual chunks keyed by session id & chunk index.
type ChunkStore interface {
	// Save writes the chunk once; when it already exists Save returns false without rewriting it.
	Save(sessionID int64, index int, r io.Reader) (bool, error)
	// Verify returns a *MissingChunkError for the first index in [0, total) that is not on disk.
	Verify(sessionID int64, total int) error
	// ReadAndDeleteInOrder hands every chunk to fn in ascending index order,
	// deleting each one once fn returns, then removes the session's chunk directory.
	ReadAndDeleteInOrder(sessionID int64, total int, fn func(index int, r io.Reader) error) error
	// Discard removes one chunk, and the session's chunk directory once it is empty.
	Discard(sessionID int64, index int) error
}

// Merger assembles the chunks of a complete session into one file under uploadDir.
type Merger struct {
	store     ChunkStore
	uploadDir string
}

func NewMerger(store ChunkStore, uploadDir string) *Merger {
	return &Merger{store: store, uploadDir: uploadDir}
}

// Path returns the final location of a merged file.
func (m *Merger) Path(sessionID int64, storedName string) string {
	return filepath.Join(m.uploadDir, strconv.FormatInt(sessionID, 10), storedName)
}

// Merge concatenates chunks 0..total-1 into the session's final file and returns its path.
// A *MissingChunkError means nothing was written; any later failure is a *StorageError
// and may leave a partially written destination behind.
func (m *Merger) Merge(ctx context.Context, sessionID int64, total int, storedName string) (string, error) {
	if err := m.store.Verify(sessionID, total); err != nil {
		return "", err
	}

	dest := m.Path(sessionID, storedName)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", &StorageError{Op: "create upload dir", Path: filepath.Dir(dest), Err: err}
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", &StorageError{Op: "open destination", Path: dest, Err: err}
	}

	err = m.store.ReadAndDeleteInOrder(sessionID, total, func(_ int, r io.Reader) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := io.Copy(f, r)
		return err
	})
	if err != nil {
		_ = f.Close()
		if IsStorageError(err) {
			return "", err
		}
		// chunks before the failing one are already consumed
		return "", &StorageError{Op: "copy chunks", Path: dest, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &StorageError{Op: "close destination", Path: dest, Err: err}
	}
	return dest, nil
}
