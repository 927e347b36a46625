package admin

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/chunker"
	"github.com/cloo-solutions/filingsearch/internal/cli"
	"github.com/cloo-solutions/filingsearch/internal/jobs"
	"github.com/cloo-solutions/filingsearch/internal/pipeline"
	"github.com/cloo-solutions/filingsearch/internal/source"
	"github.com/cloo-solutions/filingsearch/internal/telemetry"
	"github.com/spf13/cobra"
)

type ingestOptions struct {
	source       string
	dir          string
	recreate     bool
	force        bool
	skipExisting bool
	noDownload   bool
	watch        time.Duration
	output       string
}

// IngestCmd returns the ingest command.
func IngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest filings into the store and vector index",
		Long: `Reads every proceeding from the source, extracts and chunks its filings,
stores documents and chunks in PostgreSQL, and uploads chunk embeddings to
the vector collection. Failed documents are reported and do not stop the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", sourceDir, "Filing source (dir or s3)")
	cmd.Flags().StringVar(&opts.dir, "dir", os.Getenv("FILINGS_SOURCE_DIR"), "Root directory of the dir source")
	cmd.Flags().BoolVar(&opts.recreate, "recreate", false, "Drop and recreate the vector collection before ingesting")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Re-process documents that are already stored")
	cmd.Flags().BoolVar(&opts.skipExisting, "skip-existing", false, "Do not re-upload points already in the collection")
	cmd.Flags().BoolVar(&opts.noDownload, "no-download", false, "Never download missing PDFs from their source URL")
	cmd.Flags().DurationVar(&opts.watch, "watch", 0, "Re-run ingestion on this interval until interrupted")
	cmd.Flags().StringVarP(&opts.output, "output", "o", outputText, "Output format (text or json)")
	cli.BindEnv(cmd, "dir", "FILINGS_SOURCE_DIR")

	return cmd
}

func newPipeline(e *env, opts ingestOptions) (*pipeline.Pipeline, error) {
	chunks, err := chunker.New(chunker.Config{
		MaxWords:     e.cfg.ChunkMaxWords,
		OverlapWords: e.cfg.ChunkOverlapWords,
	})
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Store:     e.store,
		Extractor: source.NewPDFExtractor(),
		Chunker:   chunks,
		Embedder:  e.embedder,
		Index:     e.index,
		Logger:    e.logger,
	}
	if !opts.noDownload {
		deps.Fetcher = e.fetcher()
	}

	return pipeline.New(deps, pipeline.Config{
		Collection:     e.cfg.CollectionName,
		Producers:      e.cfg.PipelineProducers,
		Embedders:      e.cfg.PipelineEmbedders,
		Uploaders:      e.cfg.PipelineUploaders,
		QueueSize:      e.cfg.PipelineQueueSize,
		ChunkBatchSize: e.cfg.ChunkBatchSize,
		PointBatchSize: e.cfg.PointBatchSize,
		Force:          opts.force,
		SkipExisting:   opts.skipExisting,
	})
}

func runIngest(cmd *cobra.Command, opts ingestOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	src, err := e.openSource(ctx, opts.source, opts.dir)
	if err != nil {
		return err
	}

	p, err := newPipeline(e, opts)
	if err != nil {
		return err
	}

	if opts.recreate {
		if err := p.Preflight(ctx, true); err != nil {
			return err
		}
		e.logger.Info("collection recreated", "collection", e.cfg.CollectionName)
		telemetry.AddBreadcrumb(ctx, "ingest", "recreated collection "+e.cfg.CollectionName)
	}

	out := cmd.OutOrStdout()
	ingestOnce := func(ctx context.Context) error {
		ctx, tx := telemetry.StartTransaction(ctx, "ingest "+src.Name(), "cli.ingest")
		defer tx.End()

		report, err := p.Run(ctx, src)
		if err != nil {
			tx.SetError(err)
			return err
		}
		return printReport(out, opts.output, report)
	}

	if opts.watch <= 0 {
		return ingestOnce(ctx)
	}

	// Watch mode: the first pass runs immediately, then every interval.
	worker := jobs.NewWorker("ingest", jobs.RunnerFunc(ingestOnce), opts.watch, e.logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Start(ctx)
	}()

	<-ctx.Done()
	e.logger.Info("shutting down ingest watcher")
	worker.Stop()
	<-done
	return nil
}

// LoadMetadataCmd returns the load-metadata command.
func LoadMetadataCmd() *cobra.Command {
	var (
		kind   string
		dir    string
		output string
	)

	cmd := &cobra.Command{
		Use:   "load-metadata",
		Short: "Refresh proceeding attributes from proceeding.json files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := loadEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			src, err := e.openSource(ctx, kind, dir)
			if err != nil {
				return err
			}

			report, err := pipeline.LoadMetadata(ctx, e.store, src, e.logger)
			if err != nil {
				return fmt.Errorf("failed to load metadata: %w", err)
			}
			return printMetadataReport(cmd.OutOrStdout(), output, report)
		},
	}

	cmd.Flags().StringVar(&kind, "source", sourceDir, "Filing source (dir or s3)")
	cmd.Flags().StringVar(&dir, "dir", os.Getenv("FILINGS_SOURCE_DIR"), "Root directory of the dir source")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format (text or json)")
	cli.BindEnv(cmd, "dir", "FILINGS_SOURCE_DIR")

	return cmd
}
