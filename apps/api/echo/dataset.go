package echoapi

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/dataset"
	"github.com/trezcool/tabula/core/upload"
)

const (
	contextFileKey = "file"
	csvContentType = "text/csv; charset=utf-8"
)

var errFileNotFoundInCtx = errors.New("file not found in context")

type datasetApi struct {
	uploads  *upload.Service
	svc      *dataset.Service
	validate *validator.Validate
}

func registerDatasetAPI(
	router *echo.Group,
	jwt echo.MiddlewareFunc,
	uploads *upload.Service,
	svc *dataset.Service,
	validate *validator.Validate,
) {
	api := datasetApi{uploads: uploads, svc: svc, validate: validate}

	g := router.Group("/datasets/:fileId", jwt, fileMiddleware(uploads))
	g.GET("", api.view)
	g.POST("/bulk-delete", api.bulkDelete)
	g.POST("/bulk-download", api.bulkDownload)
	g.GET("/download-all", api.downloadAll)
	g.POST("/rows/:rowId/note", api.attachNote)
}

// fileMiddleware loads the upload session named by :fileId into the context.
func fileMiddleware(svc *upload.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id, err := pathID(ctx, "fileId")
			if err != nil {
				return err
			}
			sess, err := svc.GetByID(ctx.Request().Context(), id)
			if err != nil {
				if errors.Cause(err) == upload.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding upload session by ID")
			}
			ctx.Set(contextFileKey, sess)
			return next(ctx)
		}
	}
}

func contextFile(ctx echo.Context) (upload.Session, error) {
	sess, ok := ctx.Get(contextFileKey).(upload.Session)
	if !ok {
		return upload.Session{}, errors.Wrap(errFileNotFoundInCtx, "retrieving file from context")
	}
	return sess, nil
}

type (
	DatasetResponse struct {
		Ready      bool             `json:"ready"`
		Status     upload.Status    `json:"status"`
		FileName   string           `json:"fileName"`
		Progress   upload.Progress  `json:"progress"`
		Header     *dataset.Row     `json:"header,omitempty"`
		Rows       []dataset.Row    `json:"rows"`
		Pagination *core.Pagination `json:"pagination,omitempty"`
	}

	DeleteResponse struct {
		Success bool `json:"success"`
		dataset.DeleteResult
	}

	NoteResponse struct {
		Success bool   `json:"success"`
		RowID   int64  `json:"rowId"`
		Note    string `json:"note"`
	}
)

// bindListQuery reads paging params leniently: unparsable values fall back to the defaults.
func bindListQuery(ctx echo.Context) dataset.ListQuery {
	var q dataset.ListQuery
	q.Page, _ = strconv.Atoi(ctx.QueryParam("page"))
	q.PerPage, _ = strconv.Atoi(ctx.QueryParam("per_page"))
	q.Search = ctx.QueryParam("search")
	q.Normalize()
	return q
}

func (api *datasetApi) view(ctx echo.Context) error {
	sess, err := contextFile(ctx)
	if err != nil {
		return err
	}
	resp := DatasetResponse{
		Status:   sess.Status,
		FileName: sess.OriginalFileName,
		Progress: upload.NewProgress(sess),
		Rows:     []dataset.Row{},
	}

	page, err := api.svc.ListRows(ctx.Request().Context(), sess.ID, bindListQuery(ctx))
	if err != nil {
		if errors.Cause(err) == dataset.ErrNotReady {
			return ctx.JSON(http.StatusOK, resp)
		}
		return errors.Wrap(err, "listing dataset rows")
	}

	resp.Ready = true
	resp.Header = &page.Header
	if page.Rows != nil {
		resp.Rows = page.Rows
	}
	resp.Pagination = &page.Pagination
	return ctx.JSON(http.StatusOK, resp)
}

func (api *datasetApi) bindRowIDs(ctx echo.Context) (dataset.RowIDs, error) {
	var body dataset.RowIDs
	if err := ctx.Bind(&body); err != nil {
		return body, errors.Wrap(err, "binding to RowIDs")
	}
	return body, api.validate.Struct(body)
}

func (api *datasetApi) bulkDelete(ctx echo.Context) error {
	sess, err := contextFile(ctx)
	if err != nil {
		return err
	}
	body, err := api.bindRowIDs(ctx)
	if err != nil {
		return err
	}

	res, err := api.svc.BulkSoftDelete(ctx.Request().Context(), sess.ID, body.IDs)
	if err != nil {
		return errors.Wrap(err, "deleting dataset rows")
	}
	return ctx.JSON(http.StatusOK, DeleteResponse{Success: true, DeleteResult: res})
}

func (api *datasetApi) bulkDownload(ctx echo.Context) error {
	sess, err := contextFile(ctx)
	if err != nil {
		return err
	}
	body, err := api.bindRowIDs(ctx)
	if err != nil {
		return err
	}

	// buffered so that a failed export can still be reported as an error response
	var buf bytes.Buffer
	if err = api.svc.ExportSelected(ctx.Request().Context(), sess.ID, body.IDs, &buf); err != nil {
		return errors.Wrap(err, "exporting selected rows")
	}
	setAttachment(ctx, exportName(sess.OriginalFileName, "selected"))
	return ctx.Blob(http.StatusOK, csvContentType, buf.Bytes())
}

func (api *datasetApi) downloadAll(ctx echo.Context) error {
	sess, err := contextFile(ctx)
	if err != nil {
		return err
	}
	if _, err = api.svc.Ready(ctx.Request().Context(), sess.ID); err != nil {
		return err
	}

	res := ctx.Response()
	begin := func() {
		setAttachment(ctx, exportName(sess.OriginalFileName, "all"))
		res.Header().Set(echo.HeaderContentType, csvContentType)
		res.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		res.Header().Set("Pragma", "no-cache")
		res.Header().Set("Expires", "0")
		res.WriteHeader(http.StatusOK)
	}
	return errors.Wrap(api.svc.ExportAll(ctx.Request().Context(), sess.ID, res, begin), "exporting dataset")
}

func (api *datasetApi) attachNote(ctx echo.Context) error {
	sess, err := contextFile(ctx)
	if err != nil {
		return err
	}
	rowID, err := pathID(ctx, "rowId")
	if err != nil {
		return err
	}

	var body dataset.NewNote
	if err = ctx.Bind(&body); err != nil {
		return errors.Wrap(err, "binding to NewNote")
	}
	body.Note = core.CleanString(body.Note)
	if err = api.validate.Struct(body); err != nil {
		return err
	}

	if err = api.svc.AttachNote(ctx.Request().Context(), sess.ID, rowID, body.Note); err != nil {
		return errors.Wrap(err, "attaching note")
	}
	return ctx.JSON(http.StatusOK, NoteResponse{Success: true, RowID: rowID, Note: body.Note})
}

func setAttachment(ctx echo.Context, filename string) {
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
}

// exportName derives the download name from the uploaded file name, eg. "people.xlsx" -> "people_all.csv".
func exportName(original, suffix string) string {
	base := strings.TrimSuffix(original, filepath.Ext(original))
	if base == "" {
		base = "dataset"
	}
	return base + "_" + suffix + ".csv"
}
