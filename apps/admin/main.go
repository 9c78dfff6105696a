package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/tabula/apps/shared"
	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/dataset"
	"github.com/trezcool/tabula/services/ingest"
	logsvc "github.com/trezcool/tabula/services/logger"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up DB; migrations are run explicitly through `migrate`
	stores, err := shared.OpenStores(conf, false /* migrate */)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}

	// start CLI
	cli := commandLine{
		conf:     conf,
		out:      os.Stdout,
		sessions: stores.Sessions,
		rows:     stores.Rows,
		datasets: dataset.NewService(stores.Rows, stores.Sessions, nil, logger, nil, conf.Dataset.ExportBatchSize),
		ingester: ingest.New(stores.Sessions, stores.Rows, shared.NewMailService(conf, logger), logger, nil, conf),
	}
	if db, ok := stores.DB.(*sqlx.DB); ok {
		cli.db = db.DB
	}

	err = cli.run(os.Args)
	if cerr := stores.Close(); cerr != nil {
		logger.Error("closing database", cerr)
	}
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %s", err), err)
		}
		os.Exit(1)
	}
}
