package upload

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("upload session not found")
	// ErrConflict is returned when a session cannot be created or matched for the supplied upload id.
	ErrConflict = errors.New("upload session conflict")
)

// StorageError reports a failed filesystem operation on chunks or on the merged file.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// MissingChunkError reports a chunk expected on disk which is absent.
type MissingChunkError struct {
	SessionID int64
	Index     int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("session %d: chunk %d is missing", e.SessionID, e.Index)
}

func IsMissingChunk(err error) bool {
	_, ok := errors.Cause(err).(*MissingChunkError)
	return ok
}

func IsStorageError(err error) bool {
	_, ok := errors.Cause(err).(*StorageError)
	return ok
}
