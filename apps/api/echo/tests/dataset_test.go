package tests

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/tabula/apps/api/echo"
	"github.com/trezcool/tabula/core/dataset"
	"github.com/trezcool/tabula/core/upload"
	testutil "github.com/trezcool/tabula/tests"
)

func (app testApp) dataset(t *testing.T) (upload.Session, []int64) {
	t.Helper()
	sess := testutil.CreateDataset(t, app.sessions, app.rows, "people.csv",
		dataset.Cells{"name", "city", "score"},
		dataset.Cells{"Ada", " London\n", "12.500"},
		dataset.Cells{"Grace", "New \"York\"", "7"},
		dataset.Cells{"Linus", "Helsinki", "3.0"},
	)
	return sess, testutil.RowIDs(t, app.rows, sess.ID)
}

func Test_datasetApi_view(t *testing.T) {
	app := setup(t)
	sess, ids := app.dataset(t)

	rec := app.do(newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/datasets/%d?per_page=37&page=0", sess.ID), app.token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp echoapi.DatasetResponse
	unmarchall(t, rec, &resp)
	assert.True(t, resp.Ready)
	assert.Equal(t, upload.StatusCompleted, resp.Status)
	require.NotNil(t, resp.Header)
	assert.Equal(t, ids[0], resp.Header.ID)
	require.Len(t, resp.Rows, 3)
	assert.Equal(t, dataset.Cells{"Ada", "London", "12.5"}, resp.Rows[0].Data)
	assert.Equal(t, dataset.Cells{"Linus", "Helsinki", "3"}, resp.Rows[2].Data)
	require.NotNil(t, resp.Pagination)
	assert.Equal(t, 1, resp.Pagination.Page)
	assert.Equal(t, dataset.DefaultPerPage, resp.Pagination.PerPage)
	assert.Equal(t, 3, resp.Pagination.Total)

	rec = app.do(newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/datasets/%d?search=grace", sess.ID), app.token))
	require.Equal(t, http.StatusOK, rec.Code)
	resp = echoapi.DatasetResponse{}
	unmarchall(t, rec, &resp)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, ids[2], resp.Rows[0].ID)
}

func Test_datasetApi_viewNotReady(t *testing.T) {
	app := setup(t)
	now := time.Now().UTC()
	sess, err := app.sessions.CreateSession(context.Background(), upload.Session{
		UploadID:         uuid.New().String(),
		OriginalFileName: "big.csv",
		StoredFileName:   upload.StoredName("big.csv", now),
		FileSize:         10,
		TotalChunks:      2,
		ReceivedChunks:   []int{0},
		Status:           upload.StatusProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	require.NoError(t, err)

	rec := app.do(newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/datasets/%d", sess.ID), app.token))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp echoapi.DatasetResponse
	unmarchall(t, rec, &resp)
	assert.False(t, resp.Ready)
	assert.Equal(t, upload.StatusProcessing, resp.Status)
	assert.Equal(t, float64(50), resp.Progress.UploadProgress)
	assert.Nil(t, resp.Header)
	assert.Empty(t, resp.Rows)

	rec = app.do(newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/datasets/%d/download-all", sess.ID), app.token))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusConflict,
		wantData: marchallObj(t, httpErr{Error: dataset.ErrNotReady.Error()}),
	}, rec)
}

func Test_datasetApi_bulkDelete(t *testing.T) {
	app := setup(t)
	sess, ids := app.dataset(t)
	other, otherIDs := app.dataset(t)
	path := fmt.Sprintf("/v1/datasets/%d/bulk-delete", sess.ID)

	tests := []httpTest{
		{
			name:     "no token",
			method:   http.MethodPost,
			path:     path,
			body:     marchallObj(t, dataset.RowIDs{IDs: ids[1:2]}),
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "unknown file",
			method:   http.MethodPost,
			path:     "/v1/datasets/999/bulk-delete",
			body:     marchallObj(t, dataset.RowIDs{IDs: ids[1:2]}),
			token:    app.token,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name:     "no ids",
			method:   http.MethodPost,
			path:     path,
			body:     []byte(`{"ids":[]}`),
			token:    app.token,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "header only",
			method:   http.MethodPost,
			path:     path,
			body:     marchallObj(t, dataset.RowIDs{IDs: ids[:1]}),
			token:    app.token,
			wantCode: http.StatusUnprocessableEntity,
			wantData: marchallObj(t, httpErr{Error: dataset.ErrNoValidRows.Error()}),
		},
		{
			name:     "rows of another file",
			method:   http.MethodPost,
			path:     path,
			body:     marchallObj(t, dataset.RowIDs{IDs: otherIDs[1:]}),
			token:    app.token,
			wantCode: http.StatusUnprocessableEntity,
			wantData: marchallObj(t, httpErr{Error: dataset.ErrNoValidRows.Error()}),
		},
		{
			name:     "header excluded",
			method:   http.MethodPost,
			path:     path,
			body:     marchallObj(t, dataset.RowIDs{IDs: []int64{ids[0], ids[1], ids[1], otherIDs[1]}}),
			token:    app.token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.DeleteResponse{
				Success:      true,
				DeleteResult: dataset.DeleteResult{Accepted: 1, Deleted: 1, HeaderExcluded: true},
			}),
		},
		{
			name:     "already deleted",
			method:   http.MethodPost,
			path:     path,
			body:     marchallObj(t, dataset.RowIDs{IDs: ids[1:2]}),
			token:    app.token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.DeleteResponse{
				Success:      true,
				DeleteResult: dataset.DeleteResult{Accepted: 1, Deleted: 0},
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(newAuthRequest(tt.method, tt.path, tt.token, tt.body))
			checkCodeAndData(t, tt, rec)
		})
	}

	// deleted rows are hidden, the other file is untouched
	rec := app.do(newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/datasets/%d", sess.ID), app.token))
	var resp echoapi.DatasetResponse
	unmarchall(t, rec, &resp)
	assert.Len(t, resp.Rows, 2)
	assert.Equal(t, 2, resp.Pagination.Total)

	rec = app.do(newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/datasets/%d", other.ID), app.token))
	resp = echoapi.DatasetResponse{}
	unmarchall(t, rec, &resp)
	assert.Len(t, resp.Rows, 3)

	assert.Len(t, app.jobs.Purges(), 2)
}

func Test_datasetApi_bulkDownload(t *testing.T) {
	app := setup(t)
	sess, ids := app.dataset(t)
	path := fmt.Sprintf("/v1/datasets/%d/bulk-download", sess.ID)

	rec := app.do(newAuthRequest(http.MethodPost, path, app.token, marchallObj(t, dataset.RowIDs{IDs: []int64{ids[2], ids[0]}})))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="people_selected.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "\"name\",\"city\",\"score\"\r\n\"Grace\",\"New \"\"York\"\"\",\"7\"\r\n", rec.Body.String())

	rec = app.do(newAuthRequest(http.MethodPost, path, app.token, marchallObj(t, dataset.RowIDs{IDs: ids[:1]})))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusUnprocessableEntity,
		wantData: marchallObj(t, httpErr{Error: dataset.ErrNoData.Error()}),
	}, rec)
}

func Test_datasetApi_downloadAll(t *testing.T) {
	app := setup(t)
	sess, _ := app.dataset(t)

	rec := app.do(newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/datasets/%d/download-all", sess.ID), app.token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "0", rec.Header().Get("Expires"))
	assert.Equal(t, `attachment; filename="people_all.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t,
		"\"name\",\"city\",\"score\"\r\n"+
			"\"Ada\",\" London\n\",\"12.500\"\r\n"+
			"\"Grace\",\"New \"\"York\"\"\",\"7\"\r\n"+
			"\"Linus\",\"Helsinki\",\"3.0\"\r\n",
		rec.Body.String(),
	)
}

func Test_datasetApi_downloadAllNoRows(t *testing.T) {
	app := setup(t)
	sess := testutil.CreateDataset(t, app.sessions, app.rows, "people.csv")

	rec := app.do(newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/datasets/%d/download-all", sess.ID), app.token))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusUnprocessableEntity,
		wantData: marchallObj(t, httpErr{Error: dataset.ErrNoData.Error()}),
	}, rec)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
}

func Test_datasetApi_attachNote(t *testing.T) {
	app := setup(t)
	sess, ids := app.dataset(t)
	path := func(rowID int64) string { return fmt.Sprintf("/v1/datasets/%d/rows/%d/note", sess.ID, rowID) }

	tests := []httpTest{
		{
			name:     "header row",
			method:   http.MethodPost,
			path:     path(ids[0]),
			body:     marchallObj(t, dataset.NewNote{Note: "nope"}),
			token:    app.token,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: dataset.ErrForbidden.Error()}),
		},
		{
			name:     "unknown row",
			method:   http.MethodPost,
			path:     path(ids[3] + 100),
			body:     marchallObj(t, dataset.NewNote{Note: "nope"}),
			token:    app.token,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: dataset.ErrNotFound.Error()}),
		},
		{
			name:     "blank note",
			method:   http.MethodPost,
			path:     path(ids[1]),
			body:     marchallObj(t, dataset.NewNote{Note: "   "}),
			token:    app.token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"note": "this field is required"}),
		},
		{
			name:     "ok",
			method:   http.MethodPost,
			path:     path(ids[1]),
			body:     marchallObj(t, dataset.NewNote{Note: " check city "}),
			token:    app.token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.NoteResponse{Success: true, RowID: ids[1], Note: "check city"}),
		},
		{
			name:     "replaced",
			method:   http.MethodPost,
			path:     path(ids[1]),
			body:     marchallObj(t, dataset.NewNote{Note: "verified"}),
			token:    app.token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.NoteResponse{Success: true, RowID: ids[1], Note: "verified"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(newAuthRequest(tt.method, tt.path, tt.token, tt.body))
			checkCodeAndData(t, tt, rec)
		})
	}

	rec := app.do(newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/datasets/%d", sess.ID), app.token))
	var resp echoapi.DatasetResponse
	unmarchall(t, rec, &resp)
	require.Len(t, resp.Rows, 3)
	assert.Equal(t, "verified", resp.Rows[0].Note.String)
}
