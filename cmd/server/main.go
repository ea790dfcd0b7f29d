package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/docchunk/internal/api"
	"github.com/dgallion1/docchunk/internal/config"
	"github.com/dgallion1/docchunk/internal/metrics"
	"github.com/dgallion1/docchunk/internal/parser"
	"github.com/dgallion1/docchunk/internal/pipeline"
	"github.com/dgallion1/docchunk/internal/sink"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the vector store client. Storing stays disabled without a URL.
	var (
		vs    *sink.Client
		store pipeline.Store
		docs  api.SourceDeleter
	)
	if cfg.VectorStoreURL != "" {
		vs = sink.NewClient(cfg.VectorStoreURL, cfg.VectorStoreAPIKey)
		store, docs = vs, vs
	}

	// Initialize pipeline.
	latency := metrics.NewLatencyWindow(time.Hour)
	pipe, err := pipeline.New(cfg.PipelineConfig(), log,
		pipeline.WithLatency(latency),
		pipeline.WithFileParser(".pdf", &parser.PDFParser{FallbackPdftotext: cfg.PDFFallbackPdftotext}),
	)
	if err != nil {
		log.Error("invalid pipeline configuration", "error", err)
		os.Exit(1)
	}
	orch := pipeline.NewOrchestrator(cfg.OrchestratorConfig(), pipe, store, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, docs, latency, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		// Stop accepting requests before the job queue closes.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()

		if vs != nil {
			vs.Close()
		}
	}()

	log.Info("starting docchunk",
		"port", cfg.Port,
		"store_enabled", vs != nil,
		"hierarchy", cfg.ParseByHierarchy,
		"chunk_size", cfg.ChunkSize,
		"chunk_overlap", cfg.ChunkOverlap,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
