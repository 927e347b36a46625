package admin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/config"
	"github.com/cloo-solutions/filingsearch/internal/database"
	"github.com/cloo-solutions/filingsearch/internal/embedding"
	"github.com/cloo-solutions/filingsearch/internal/repository"
	"github.com/cloo-solutions/filingsearch/internal/source"
	"github.com/cloo-solutions/filingsearch/internal/storage"
	"github.com/cloo-solutions/filingsearch/internal/telemetry"
	"github.com/cloo-solutions/filingsearch/internal/vectorindex"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	sourceDir = "dir"
	sourceS3  = "s3"
)

// newLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func newLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", "filingsearch")
}

// initTelemetry starts Sentry when a DSN is configured. The returned
// function is always safe to call.
func initTelemetry(cfg *config.Config, logger *slog.Logger) func() {
	if !cfg.HasSentry() {
		return func() {}
	}

	// 100% of traces in development, 10% elsewhere
	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}

	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
	})
	if err != nil {
		logger.Warn("telemetry init failed, continuing without tracing", "error", err)
		return func() {}
	}
	return shutdown
}

// env holds the long-lived clients every command needs.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	store    *repository.Store
	embedder *embedding.BatchEmbedder
	index    vectorindex.Index

	shutdownTelemetry func()
}

// loadEnv reads configuration and opens the database, the embedding
// provider and the vector index. Configuration problems are returned before
// any connection is attempted.
func loadEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	e := &env{cfg: cfg, logger: logger, shutdownTelemetry: initTelemetry(cfg, logger)}

	e.pool, err = database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DatabaseMaxConns,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	logger.Info("connected to database")
	e.store = repository.NewStore(e.pool)

	embedder, err := embedding.New(ctx, cfg, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	e.embedder = embedder

	index, err := vectorindex.New(cfg, e.pool, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}
	e.index = index

	return e, nil
}

// Close releases clients in reverse order of creation.
func (e *env) Close() {
	if e.index != nil {
		if err := e.index.Close(); err != nil {
			e.logger.Warn("vector index close failed", "error", err)
		}
	}
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			e.logger.Warn("embedder close failed", "error", err)
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.shutdownTelemetry != nil {
		e.shutdownTelemetry()
	}
}

func (e *env) fetcher() *source.Fetcher {
	return source.NewFetcher(source.FetcherConfig{
		RatePerSecond: e.cfg.FetchRatePerSecond,
		Timeout:       time.Duration(e.cfg.FetchTimeoutSec) * time.Second,
	}, e.logger)
}

// openSource resolves --source. "dir" reads a local tree, "s3" reads the
// configured bucket under S3_PREFIX.
func (e *env) openSource(ctx context.Context, kind, dir string) (source.Source, error) {
	switch kind {
	case sourceDir:
		if dir == "" {
			return nil, fmt.Errorf("--dir is required for the dir source")
		}
		local, err := source.NewLocalDir(dir)
		if err != nil {
			return nil, err
		}
		return local, nil
	case sourceS3:
		if !e.cfg.HasS3() {
			return nil, fmt.Errorf("S3 source requires FILINGS_S3_ENDPOINT, FILINGS_S3_ACCESS_KEY_ID and FILINGS_S3_SECRET_ACCESS_KEY")
		}
		client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        e.cfg.S3Endpoint,
			Region:          e.cfg.S3Region,
			AccessKeyID:     e.cfg.S3AccessKey,
			SecretAccessKey: e.cfg.S3SecretKey,
			Bucket:          e.cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		return source.NewS3(client, e.cfg.S3Prefix), nil
	default:
		return nil, fmt.Errorf("unknown source %q (expected %s or %s)", kind, sourceDir, sourceS3)
	}
}
