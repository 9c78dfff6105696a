package tests

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/tabula/apps/api/echo"
	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/dataset"
	"github.com/trezcool/tabula/core/upload"
	"github.com/trezcool/tabula/services/chunkstore"
	inmemdb "github.com/trezcool/tabula/storage/database/inmem"
	testutil "github.com/trezcool/tabula/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	*echoapi.Server
	conf     *core.Config
	sessions upload.Repository
	rows     dataset.Repository
	jobs     *testutil.JobQueue
	token    string
}

func setup(t *testing.T) testApp {
	t.Helper()
	root, err := ioutil.TempDir("", "echoapi")
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(root) })

	conf := &core.Config{
		AppName:   "Tabula",
		SecretKey: "secret",
		TestMode:  true,
		Server:    core.ServerConfig{JWTExpirationDelta: time.Hour},
		Upload:    core.UploadConfig{MaxChunkSize: "1M"},
	}

	// set up DB & repos
	db := inmemdb.Open()
	app := testApp{
		conf:     conf,
		sessions: inmemdb.NewUploadRepository(db),
		rows:     inmemdb.NewDatasetRepository(db),
		jobs:     new(testutil.JobQueue),
	}

	// set up services
	store := chunkstore.New(filepath.Join(root, "chunks"))
	merger := upload.NewMerger(store, filepath.Join(root, "uploads"))
	uploadSvc := upload.NewService(app.sessions, store, merger, app.jobs, testutil.Logger{}, nil)
	datasetSvc := dataset.NewService(app.rows, app.sessions, app.jobs, testutil.Logger{}, nil, 2)

	validate, translator := core.NewValidator()

	// set up server
	app.Server = echoapi.NewServer(echoapi.ServerDeps{
		Conf:           conf,
		Logger:         testutil.Logger{},
		UploadSvc:      uploadSvc,
		DatasetSvc:     datasetSvc,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
	app.token = getToken(t, conf)
	return app
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func (app testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

func newAuthRequest(method, path, token string, data ...[]byte) *http.Request {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// newChunkRequest builds a multipart chunk upload; a nil chunk omits the file part.
func newChunkRequest(t *testing.T, token string, fields map[string]string, chunk []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("newChunkRequest() failed: %v", err)
		}
	}
	if chunk != nil {
		part, err := w.CreateFormFile("chunk", "blob")
		if err != nil {
			t.Fatalf("newChunkRequest() failed: %v", err)
		}
		_, _ = part.Write(chunk)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("newChunkRequest() failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/uploads/chunk", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func getToken(t *testing.T, conf *core.Config) string {
	token, err := echoapi.GenerateToken(conf, echoapi.NewClaims(conf, "frontend", "Frontend"))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarchall(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarchall(%s) failed: %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	assert.True(t, ok, "failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
}
