package chunkstore

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"

	"github.com/trezcool/tabula/core/upload"
)

// FS stores chunks as files under <root>/<sessionID>/chunk_<index>.
type FS struct {
	root string
}

var _ upload.ChunkStore = (*FS)(nil)

func New(root string) *FS {
	return &FS{root: root}
}

func (s *FS) dir(sessionID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(sessionID, 10))
}

// Path is zero-padded so that lexical & numeric order agree.
func (s *FS) Path(sessionID int64, index int) string {
	return filepath.Join(s.dir(sessionID), fmt.Sprintf("chunk_%06d", index))
}

func (s *FS) Save(sessionID int64, index int, r io.Reader) (bool, error) {
	path := s.Path(sessionID, index)
	if _, err := os.Stat(path); err == nil {
		// drain so the client connection is not left half-read
		_, _ = io.Copy(ioutil.Discard, r)
		return false, nil
	}

	dir := s.dir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, &upload.StorageError{Op: "create chunk dir", Path: dir, Err: err}
	}

	tmp, err := ioutil.TempFile(dir, ".upload-*")
	if err != nil {
		return false, &upload.StorageError{Op: "create chunk", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err = io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return false, &upload.StorageError{Op: "write chunk", Path: path, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return false, &upload.StorageError{Op: "write chunk", Path: path, Err: err}
	}

	// a concurrent retry of the same index may have landed first
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err = os.Rename(tmpName, path); err != nil {
		return false, &upload.StorageError{Op: "write chunk", Path: path, Err: err}
	}
	return true, nil
}

func (s *FS) Verify(sessionID int64, total int) error {
	for i := 0; i < total; i++ {
		if _, err := os.Stat(s.Path(sessionID, i)); err != nil {
			if os.IsNotExist(err) {
				return &upload.MissingChunkError{SessionID: sessionID, Index: i}
			}
			return &upload.StorageError{Op: "stat chunk", Path: s.Path(sessionID, i), Err: err}
		}
	}
	return nil
}

func (s *FS) ReadAndDeleteInOrder(sessionID int64, total int, fn func(index int, r io.Reader) error) error {
	for i := 0; i < total; i++ {
		if err := s.consume(sessionID, i, fn); err != nil {
			return err
		}
	}

	dir := s.dir(sessionID)
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return &upload.StorageError{Op: "remove chunk dir", Path: dir, Err: err}
	}
	return nil
}

func (s *FS) Discard(sessionID int64, index int) error {
	path := s.Path(sessionID, index)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &upload.StorageError{Op: "remove chunk", Path: path, Err: err}
	}
	// fails while other chunks remain
	_ = os.Remove(s.dir(sessionID))
	return nil
}

func (s *FS) consume(sessionID int64, index int, fn func(index int, r io.Reader) error) error {
	path := s.Path(sessionID, index)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &upload.MissingChunkError{SessionID: sessionID, Index: index}
		}
		return &upload.StorageError{Op: "open chunk", Path: path, Err: err}
	}

	err = fn(index, f)
	_ = f.Close()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return &upload.StorageError{Op: "remove chunk", Path: path, Err: err}
	}
	return nil
}
