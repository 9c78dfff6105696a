package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	echoapi "github.com/trezcool/tabula/apps/api/echo"
	"github.com/trezcool/tabula/apps/shared"
	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/dataset"
	"github.com/trezcool/tabula/core/upload"
	"github.com/trezcool/tabula/services/chunkstore"
	"github.com/trezcool/tabula/services/ingest"
	logsvc "github.com/trezcool/tabula/services/logger"
	metricsvc "github.com/trezcool/tabula/services/metrics"
	"github.com/trezcool/tabula/services/worker"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up DB
	stores, err := shared.OpenStores(conf, true /* migrate */)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = stores.Close(); err != nil {
			logger.Error("closing database", err)
		}
	}()

	metrics := metricsvc.Default()
	mailSvc := shared.NewMailService(conf, logger)

	// set up background jobs
	pool := worker.NewPool(conf.Ingest.Workers, conf.Ingest.QueueSize, logger)

	// set up services
	chunks := chunkstore.New(absPath(conf, conf.Upload.ChunkDir))
	merger := upload.NewMerger(chunks, absPath(conf, conf.Upload.UploadDir))
	uploadSvc := upload.NewService(stores.Sessions, chunks, merger, pool, logger, metrics)
	datasetSvc := dataset.NewService(stores.Rows, stores.Sessions, pool, logger, metrics, conf.Dataset.ExportBatchSize)
	ingester := ingest.New(stores.Sessions, stores.Rows, mailSvc, logger, metrics, conf)

	pool.Handle(ingester.Ingest, func(ctx context.Context, task core.PurgeTask) error {
		_, err := datasetSvc.Purge(ctx, task)
		return err
	})
	pool.Start()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate, translator := core.NewValidator()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - prometheus metrics.
	// /readiness - database ping.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("database").Set(conf.Database.Engine)

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/readiness", func(w http.ResponseWriter, r *http.Request) {
		if err := stores.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			UploadSvc:  uploadSvc,
			DatasetSvc: datasetSvc,
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}

	// let running jobs finish
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	if err = pool.Shutdown(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop workers gracefully: %v", err), err)
	}
}

func absPath(conf *core.Config, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(conf.WorkDir, path)
}
