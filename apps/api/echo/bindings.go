package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/upload"
)

const chunkField = "chunk"

// bindChunk reads the chunk metadata from the multipart form.
// echo's binder reports the first bad field only, so fields are parsed one by one.
func bindChunk(ctx echo.Context, nc *upload.NewChunk) error {
	var fldErrs []core.FieldError

	intField := func(name string) int64 {
		raw := strings.TrimSpace(ctx.FormValue(name))
		if raw == "" {
			fldErrs = append(fldErrs, core.FieldError{Field: name, Error: "this field is required"})
			return 0
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fldErrs = append(fldErrs, core.FieldError{Field: name, Error: "must be an integer"})
			return 0
		}
		return v
	}

	nc.ChunkIndex = int(intField("chunkIndex"))
	nc.TotalChunks = int(intField("totalChunks"))
	nc.FileSize = intField("fileSize")

	nc.UploadID = ctx.FormValue("uploadId")
	nc.FileName = ctx.FormValue("fileName")

	if fldErrs != nil {
		return core.NewValidationError(nil, fldErrs...)
	}
	return nil
}

// pathID parses an integer path parameter; malformed ids are reported as not found.
func pathID(ctx echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || id < 1 {
		return 0, errHttpNotFound
	}
	return id, nil
}
