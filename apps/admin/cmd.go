package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/dataset"
	"github.com/trezcool/tabula/core/upload"
	"github.com/trezcool/tabula/services/ingest"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf     *core.Config
	out      io.Writer
	db       *sql.DB // nil with the memory engine
	sessions upload.Repository
	rows     dataset.Repository
	datasets *dataset.Service
	ingester *ingest.Ingester
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]              - run goose migrations (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  token -subject NAME [-name NAME]    - mint an API client token")
	fmt.Fprintln(cli.out, "  ingest -file ID                     - re-run the ingestion of an uploaded file")
	fmt.Fprintln(cli.out, "  purge -file ID                      - physically remove a file's deleted rows")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenSubject := tokenCmd.String("subject", "", "The API client identifier.")
	tokenName := tokenCmd.String("name", "", "The API client display name.")

	ingestCmd := flag.NewFlagSet("ingest", flag.ContinueOnError)
	ingestFile := ingestCmd.Int64("file", 0, "The file (upload session) id.")

	purgeCmd := flag.NewFlagSet("purge", flag.ContinueOnError)
	purgeFile := purgeCmd.Int64("file", 0, "The file (upload session) id.")

	for _, fs := range []*flag.FlagSet{tokenCmd, ingestCmd, purgeCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenSubject == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenSubject, *tokenName)
	case "ingest":
		if err := ingestCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *ingestFile < 1 {
			ingestCmd.Usage()
			return errHelp
		}
		return cli.ingest(*ingestFile)
	case "purge":
		if err := purgeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *purgeFile < 1 {
			purgeCmd.Usage()
			return errHelp
		}
		return cli.purge(*purgeFile)
	default:
		cli.printUsage()
		return errHelp
	}
}
