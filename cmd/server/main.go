package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/olorin-ai/fraudlens-backend/internal/api/middleware"
	"github.com/olorin-ai/fraudlens-backend/internal/api/rest"
	"github.com/olorin-ai/fraudlens-backend/internal/api/websocket"
	"github.com/olorin-ai/fraudlens-backend/internal/config"
	"github.com/olorin-ai/fraudlens-backend/internal/detector"
	"github.com/olorin-ai/fraudlens-backend/internal/pkg/logger"
	"github.com/olorin-ai/fraudlens-backend/internal/pkg/tracing"
	"github.com/olorin-ai/fraudlens-backend/internal/repository"
	"github.com/olorin-ai/fraudlens-backend/internal/service"
	"github.com/olorin-ai/fraudlens-backend/internal/warehouse"
	"github.com/olorin-ai/fraudlens-backend/migrations"
)

func main() {
	log.Println("🚀 Starting FraudLens Backend...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Printf("⚠️  Failed to load config: %v, using defaults", err)
		cfg = &config.Config{
			Port:               8080,
			DatabasePath:       "./fraudlens.db",
			LogLevel:           "info",
			AllowedOrigins:     []string{"*"},
			RequestTimeoutSec:  30,
			ShutdownTimeoutSec: 15,
			DetectionWorkers:   4,
			DetectionQueueSize: 64,
			FetchTimeoutSec:    30,
			FetchMaxAttempts:   3,
			StaleRunTimeoutSec: 1800,
			SweepIntervalSec:   300,
		}
	}

	slogger := logger.New(cfg.LogLevel)

	// Distributed tracing is opt-in: no endpoint, no exporter.
	if cfg.OTLPEndpoint != "" {
		shutdownTracing, err := tracing.Init("fraudlens-backend", cfg.OTLPEndpoint, cfg.TraceSamplingRate)
		if err != nil {
			log.Printf("⚠️  Failed to initialize tracing: %v, continuing without traces", err)
		} else {
			defer shutdownTracing()
			log.Printf("✅ Tracing initialized (endpoint: %s)", cfg.OTLPEndpoint)
		}
	}

	// Initialize storage: Postgres when a DSN is configured, embedded SQLite otherwise
	var store repository.Store
	if cfg.PostgresDSN != "" {
		pg, err := repository.NewPostgresRepository(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Postgres: %v", err)
		}
		if err := pg.RunMigrations(migrations.FS); err != nil {
			log.Fatalf("❌ Failed to run migrations: %v", err)
		}
		store = pg
		log.Println("✅ Postgres initialized")
	} else {
		sq, err := repository.NewSQLiteRepository(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("❌ Failed to initialize database: %v", err)
		}
		if err := sq.RunMigrations(migrations.FS); err != nil {
			log.Fatalf("❌ Failed to run migrations: %v", err)
		}
		store = sq
		log.Printf("✅ SQLite initialized (path: %s)", cfg.DatabasePath)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Detector registry and data warehouse access
	registry := detector.NewRegistry(slogger)
	fetcher := warehouse.NewRetryingFetcher(
		warehouse.NewMemoryFetcher(),
		time.Duration(cfg.FetchTimeoutSec)*time.Second,
		cfg.FetchMaxAttempts,
		slogger,
	)

	// WebSocket hub for live anomaly streaming
	wsHub := websocket.NewHub(ctx)
	go wsHub.Run()
	wsHandler := websocket.NewHandler(ctx, wsHub)

	// Detection orchestrator
	detectionService := service.NewDetectionService(store, registry, fetcher, wsHub, cfg, slogger)
	detectionService.Start(ctx)
	log.Printf("✅ Detection service started (%d workers)", cfg.DetectionWorkers)

	// Setup router
	router := mux.NewRouter()

	healthz := rest.NewHealthzHandler(store)
	router.HandleFunc("/healthz/live", healthz.Live).Methods("GET")
	router.HandleFunc("/healthz/ready", healthz.Ready).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	rest.SetupRoutes(apiRouter, rest.NewHandler(detectionService))

	router.HandleFunc("/ws/anomalies", wsHandler.ServeWS)

	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery)
	router.Use(middleware.Tracing)
	router.Use(middleware.StructuredLog)
	router.Use(middleware.SecureHeaders)
	router.Use(middleware.RateLimit())
	router.Use(middleware.MaxBodySize(middleware.DefaultStandardMaxBodyBytes, middleware.DefaultCalibrationMaxBodyBytes))

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  time.Duration(cfg.RequestTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🌐 Server listening on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	detectionService.Stop()
	wsHub.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server stopped")
}
