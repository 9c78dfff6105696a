package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/tabula/apps/api/echo"
	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/dataset"
	"github.com/trezcool/tabula/core/upload"
	"github.com/trezcool/tabula/services/ingest"
	inmemdb "github.com/trezcool/tabula/storage/database/inmem"
	testutil "github.com/trezcool/tabula/tests"
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	db := inmemdb.Open()
	sessions := inmemdb.NewUploadRepository(db)
	rows := inmemdb.NewDatasetRepository(db)
	conf := &core.Config{
		AppName:   "Tabula",
		SecretKey: "secret",
		Server:    core.ServerConfig{JWTExpirationDelta: time.Hour},
	}
	out := new(bytes.Buffer)

	// start CLI
	return &commandLine{
		conf:     conf,
		out:      out,
		sessions: sessions,
		rows:     rows,
		datasets: dataset.NewService(rows, sessions, new(testutil.JobQueue), testutil.Logger{}, nil, 0),
		ingester: ingest.New(sessions, rows, nil, testutil.Logger{}, nil, conf),
	}, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_run(t *testing.T) {
	cli, _ := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "token: no subject", args: []string{"token"}, wantErr: errHelp},
		{name: "ingest: no file", args: []string{"ingest"}, wantErr: errHelp},
		{name: "purge: no file", args: []string{"purge", "-file", "0"}, wantErr: errHelp},
		{name: "purge: unknown file", args: []string{"purge", "-file", "42"}, wantErr: upload.ErrNotFound},
		{name: "migrate: memory engine", args: []string{"migrate", "up"}, wantErr: errNoSQLDatabase},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)
	cli.db = new(sql.DB) // never used: goose is mocked

	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "row_tags", "sql"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}
}

func Test_commandLine_token(t *testing.T) {
	cli, out := setup(t)

	require.NoError(t, cli.run([]string{"admin", "token", "-subject", "frontend", "-name", "Web UI"}))

	claims := new(echoapi.Claims)
	_, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cli.conf.SecretKey), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "frontend", claims.Subject)
	assert.Equal(t, "Web UI", claims.Name)
	assert.Equal(t, "Tabula", claims.Issuer)
}

func Test_commandLine_ingest(t *testing.T) {
	cli, out := setup(t)
	ctx := context.Background()

	dir, err := ioutil.TempDir("", "admin")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	path := filepath.Join(dir, "people.csv")
	require.NoError(t, ioutil.WriteFile(path, []byte("name,city\nAda,London\nGrace,New York\n"), 0o644))

	sess := testutil.CreateDataset(t, cli.sessions, cli.rows, "people.csv", dataset.Cells{"stale"})
	tests := []cliTest{
		{name: "not merged", args: []string{"ingest", "-file", strconv.FormatInt(sess.ID, 10)}, wantErr: errNotMerged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	_, err = cli.sessions.CompleteMerge(ctx, sess.ID, path)
	require.NoError(t, err)
	require.NoError(t, cli.sessions.FailSession(ctx, sess.ID, "ingestion crashed"))

	require.NoError(t, cli.run([]string{"admin", "ingest", "-file", strconv.FormatInt(sess.ID, 10)}))
	assert.Contains(t, out.String(), fmt.Sprintf("cleared 1 rows of file %d", sess.ID))
	assert.Contains(t, out.String(), fmt.Sprintf("ingested 3 rows of file %d", sess.ID))

	got, err := cli.sessions.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, upload.StatusCompleted, got.Status)
	assert.True(t, got.IngestedAt.Valid)
	assert.Len(t, testutil.RowIDs(t, cli.rows, sess.ID), 3)
}

func Test_commandLine_purge(t *testing.T) {
	cli, out := setup(t)
	ctx := context.Background()

	sess := testutil.CreateDataset(t, cli.sessions, cli.rows, "people.csv",
		dataset.Cells{"name"}, dataset.Cells{"Ada"}, dataset.Cells{"Grace"}, dataset.Cells{"Linus"},
	)
	ids := testutil.RowIDs(t, cli.rows, sess.ID)
	// the queued purge task is never run here
	_, err := cli.datasets.BulkSoftDelete(ctx, sess.ID, ids[1:3])
	require.NoError(t, err)

	require.NoError(t, cli.run([]string{"admin", "purge", "-file", strconv.FormatInt(sess.ID, 10)}))
	assert.Contains(t, out.String(), fmt.Sprintf("purged 2 rows of file %d", sess.ID))
	assert.Equal(t, []int64{ids[0], ids[3]}, testutil.RowIDs(t, cli.rows, sess.ID))
}
