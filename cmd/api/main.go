package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/expense-extractor/internal/api/handlers"
	"github.com/dvloznov/expense-extractor/internal/api/middleware"
	"github.com/dvloznov/expense-extractor/internal/config"
	"github.com/dvloznov/expense-extractor/internal/docstore"
	"github.com/dvloznov/expense-extractor/internal/gemini"
	infraBQ "github.com/dvloznov/expense-extractor/internal/infra/bigquery"
	"github.com/dvloznov/expense-extractor/internal/logger"
	"github.com/dvloznov/expense-extractor/internal/observability"
	"github.com/dvloznov/expense-extractor/internal/pipeline"
	"github.com/dvloznov/expense-extractor/internal/runs"
	"github.com/dvloznov/expense-extractor/internal/runs/inmemory"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()

	// Parse command-line flags
	var (
		port   = flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
		bucket = flag.String("bucket", cfg.UploadBucket, "GCS location for transient uploads (or set UPLOAD_BUCKET env)")
	)
	flag.Parse()
	cfg.Port = *port
	cfg.UploadBucket = *bucket

	// Initialize logger
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()

	model, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	store, closeStore, err := newDocumentStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create document store")
	}
	defer closeStore()

	runStore, closeRuns, err := newRunStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create run log")
	}
	defer closeRuns()

	metrics := observability.NewMetrics()

	extractor := pipeline.NewExtractor(model, store,
		pipeline.WithRecorder(runStore),
		pipeline.WithMetrics(metrics),
		pipeline.WithMaxUploadBytes(cfg.MaxUploadBytes),
		pipeline.WithModelName(model.Model()),
	)

	// Initialize handlers
	receiptsHandler := handlers.NewReceiptsHandler(extractor, cfg.MaxUploadBytes, log)
	runsHandler := handlers.NewRunsHandler(runStore, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/receipts/process", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			receiptsHandler.ProcessReceipt(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/receipts/process-history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			receiptsHandler.ProcessHistory(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Run log endpoints
	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			runsHandler.ListRuns(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/runs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			runID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
			if runID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Run ID is required")
				return
			}
			runsHandler.GetRun(w, r, runID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.Handle("/metrics", metrics.Handler())

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware, outermost first
	handler := middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.Logger(log),
		middleware.RequestID(log),
		middleware.CORS(cfg.AllowedOrigins),
		middleware.Auth(cfg.JWTSecret, log),
	)

	// Model calls on large documents can take well over a minute.
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("model", model.Model()).
			Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// newDocumentStore returns a GCS store when a bucket is configured and a
// local directory store otherwise.
func newDocumentStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (pipeline.DocumentStore, func(), error) {
	if cfg.UploadBucket != "" {
		store, err := docstore.NewGCSStore(ctx, cfg.UploadBucket)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("location", cfg.UploadBucket).Msg("Using GCS document store")
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close storage client")
			}
		}, nil
	}

	store, err := docstore.NewLocalStore(cfg.UploadDir)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("dir", store.Dir()).Msg("Using local document store")
	return store, func() {}, nil
}

// newRunStore returns the BigQuery run log when a project is configured and
// an in-memory one otherwise.
func newRunStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (runs.Store, func(), error) {
	if cfg.BQProjectID != "" {
		repo, err := infraBQ.NewRunRepository(ctx, cfg.BQProjectID, cfg.BQDataset)
		if err != nil {
			return nil, nil, err
		}
		log.Info().
			Str("project", cfg.BQProjectID).
			Str("dataset", cfg.BQDataset).
			Msg("Using BigQuery run log")
		return repo, func() {
			if err := repo.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close BigQuery client")
			}
		}, nil
	}

	log.Warn().Msg("No BQ_PROJECT_ID configured - runs are kept in memory only")
	return inmemory.NewStore(), func() {}, nil
}
