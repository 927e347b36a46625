package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/api/handlers"
	"github.com/cloo-solutions/filingsearch/internal/cli"
	"github.com/cloo-solutions/filingsearch/internal/database"
	"github.com/cloo-solutions/filingsearch/internal/jobs"
	"github.com/cloo-solutions/filingsearch/internal/repository"
	"github.com/cloo-solutions/filingsearch/internal/retrieval"
	"github.com/cloo-solutions/filingsearch/internal/server"
	"github.com/cloo-solutions/filingsearch/internal/vectorindex"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 30 * time.Second
	rerankTimeout   = 30 * time.Second
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the search API server",
		Long: `Start the filingsearch HTTP server. POST /search answers keyword, semantic,
reranked and hybrid queries; /health checks the database and vector index.
With --ingest-interval the server also re-ingests the source periodically.`,
		RunE: runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (defaults to FILINGS_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Duration("ingest-interval", 0, "Re-ingest the source on this interval while serving")
	cmd.Flags().String("source", sourceDir, "Filing source for background ingestion (dir or s3)")
	cmd.Flags().String("dir", os.Getenv("FILINGS_SOURCE_DIR"), "Root directory of the dir source")
	cli.BindEnv(cmd, "port", "FILINGS_PORT")
	cli.BindEnv(cmd, "dir", "FILINGS_SOURCE_DIR")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	logger := e.logger

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		e.cfg.Port = port
	}

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		if err := database.Migrate(e.cfg.DatabaseURL, logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	// A collection built for another model cannot answer semantic queries.
	dims := e.embedder.Dimensions()
	if err := vectorindex.CheckCompatible(ctx, e.index, e.cfg.CollectionName, dims); err != nil {
		logger.Warn("vector collection not usable, semantic search will fail until it is created",
			"collection", e.cfg.CollectionName, "error", err)
	}

	engineDeps := retrieval.EngineDeps{
		Keyword:  repository.NewSearchRepository(e.pool),
		Embedder: e.embedder,
		Index:    e.index,
		Logger:   logger,
	}
	if e.cfg.HasReranker() {
		engineDeps.Reranker = retrieval.NewTEIReranker(e.cfg.RerankerURL, rerankTimeout)
		logger.Info("reranker enabled", "url", e.cfg.RerankerURL)
	}
	engine, err := retrieval.NewEngine(engineDeps, retrieval.Config{
		Collection:       e.cfg.CollectionName,
		RerankCandidates: e.cfg.RerankerCandidates,
	})
	if err != nil {
		return err
	}

	var ingestWorker *jobs.Worker
	if interval, _ := cmd.Flags().GetDuration("ingest-interval"); interval > 0 {
		kind, _ := cmd.Flags().GetString("source")
		dir, _ := cmd.Flags().GetString("dir")
		src, err := e.openSource(ctx, kind, dir)
		if err != nil {
			return err
		}
		p, err := newPipeline(e, ingestOptions{})
		if err != nil {
			return err
		}
		ingestWorker = jobs.NewWorker("ingest", jobs.RunnerFunc(func(ctx context.Context) error {
			report, err := p.Run(ctx, src)
			if err != nil {
				return err
			}
			logger.Info("ingest.pass_finished",
				"processed", report.Processed,
				"skipped", report.Skipped,
				"failed", report.Failed,
				"points_uploaded", report.PointsUploaded,
			)
			return nil
		}), interval, logger)
		go ingestWorker.Start(ctx)
	}

	indexCheck := server.CheckFunc(func(ctx context.Context) error {
		return vectorindex.CheckCompatible(ctx, e.index, e.cfg.CollectionName, dims)
	})
	router := server.NewRouter(server.RouterConfig{
		SearchHandler: handlers.NewSearchHandler(engine, logger),
		Checks: map[string]server.HealthChecker{
			"database":     e.pool,
			"vector_index": indexCheck,
		},
		Logger: logger,
	})

	srv := &http.Server{
		Addr:              ":" + e.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", e.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	if ingestWorker != nil {
		ingestWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}
