package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c2h5ohfu/AetherCell/db"
	"github.com/c2h5ohfu/AetherCell/internal/api"
	"github.com/c2h5ohfu/AetherCell/internal/config"
	"github.com/c2h5ohfu/AetherCell/internal/database"
	"github.com/c2h5ohfu/AetherCell/internal/document"
	"github.com/c2h5ohfu/AetherCell/internal/embedding"
	"github.com/c2h5ohfu/AetherCell/internal/ingest"
	"github.com/c2h5ohfu/AetherCell/internal/llm"
	"github.com/c2h5ohfu/AetherCell/internal/log"
	"github.com/c2h5ohfu/AetherCell/internal/splitter"
	"github.com/c2h5ohfu/AetherCell/internal/store"
	"github.com/c2h5ohfu/AetherCell/internal/vectorindex"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 2 * time.Minute // uploads can be large
	writeTimeout      = 2 * time.Minute
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second

	// stuckBatchAge is how long a batch may sit in processing before the
	// startup pass marks it interrupted.
	stuckBatchAge = 30 * time.Minute

	// reconcileInterval paces the periodic drift sweep.
	reconcileInterval = 15 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP ingestion and retrieval server",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe constructs every dependency once, starts the HTTP server and
// the periodic reconcile loop, and shuts both down on SIGINT/SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{JSON: cfg.LogJSON})
	logger.Info("starting server", "version", AppVersion)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	embedder := embedding.NewOllama(embedding.OllamaConfig{
		BaseURL: cfg.OllamaHost,
		Model:   cfg.EmbedderModel,
	})
	if err := embedder.Ping(ctx); err != nil {
		logger.Warn("embedding backend not reachable at startup", "host", cfg.OllamaHost, "error", err)
	}
	generator := llm.NewOllama(llm.OllamaConfig{
		BaseURL: cfg.OllamaHost,
		Model:   cfg.GeneratorModel,
	})

	service := ingest.NewService(
		document.NewLoader(logger),
		splitter.New(cfg.ChunkSize, cfg.ChunkOverlap, logger),
		embedder,
		vectorindex.NewPostgres(pool, logger),
		store.New(pool, logger),
		generator,
		ingest.Config{
			Workers:   cfg.IngestWorkers,
			QueueSize: cfg.IngestQueueSize,
		},
		logger,
	)
	defer service.Close()

	if n, err := service.RequeueStuck(ctx, stuckBatchAge); err != nil {
		logger.Warn("startup stuck-batch pass failed", "error", err)
	} else if n > 0 {
		logger.Info("marked stuck batches interrupted", "count", n)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(service, logger),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server ready", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := service.Reconcile(gctx); err != nil {
					logger.Warn("reconcile sweep failed", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
