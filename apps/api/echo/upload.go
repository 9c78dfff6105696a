package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/upload"
)

type uploadApi struct {
	svc      *upload.Service
	validate *validator.Validate
}

func registerUploadAPI(
	router *echo.Group,
	jwt echo.MiddlewareFunc,
	conf *core.Config,
	svc *upload.Service,
	validate *validator.Validate,
) {
	api := uploadApi{svc: svc, validate: validate}

	g := router.Group("/uploads", jwt)
	g.POST("/chunk", api.receiveChunk, middleware.BodyLimit(conf.Upload.MaxChunkSize))
	g.GET("/:fileId/progress", api.progress)
}

func (api *uploadApi) receiveChunk(ctx echo.Context) error {
	var nc upload.NewChunk
	if err := bindChunk(ctx, &nc); err != nil {
		return err
	}
	nc.Clean()
	if err := api.validate.Struct(nc); err != nil {
		return err
	}

	fh, err := ctx.FormFile(chunkField)
	if err != nil {
		return core.NewFieldError(chunkField, "this field is required")
	}
	chunk, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening chunk")
	}
	defer func() { _ = chunk.Close() }()

	rcpt, err := api.svc.ReceiveChunk(ctx.Request().Context(), nc, chunk)
	if err != nil {
		return errors.Wrap(err, "receiving chunk")
	}
	return ctx.JSON(http.StatusOK, rcpt)
}

func (api *uploadApi) progress(ctx echo.Context) error {
	id, err := pathID(ctx, "fileId")
	if err != nil {
		return err
	}
	prog, err := api.svc.Progress(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting upload progress")
	}
	return ctx.JSON(http.StatusOK, prog)
}
