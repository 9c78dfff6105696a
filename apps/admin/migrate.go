package main

import (
	"errors"

	"github.com/trezcool/goose"

	appfs "github.com/trezcool/tabula/fs"
)

var (
	gooseRunFunc = goose.RunFS // mockable

	errNoSQLDatabase = errors.New("migrations require the postgres database engine")
)

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoSQLDatabase
	}
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(args[0], cli.db, appfs.FS, "migrations", arguments...)
}
