package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"land-search/internal/api"
	"land-search/internal/cadastral"
	"land-search/internal/db"
	"land-search/internal/metrics"
)

func main() {
	// Parse command line flags
	port := flag.Int("port", 8080, "Port to listen on")
	dbPath := flag.String("db", "", "Path to SQLite database")
	nspdURL := flag.String("nspd", cadastral.DefaultBaseURL, "NSPD geoportal base URL")
	pause := flag.Duration("pause", 100*time.Millisecond, "Pause between bulk import items")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Default database path
	if *dbPath == "" {
		cwd, _ := os.Getwd()
		*dbPath = filepath.Join(cwd, "data", "land-search.db")
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	log.Printf("Database path: %s", *dbPath)

	// Initialize database
	database, err := db.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, s := range cadastral.DefaultSettings() {
		if _, err := database.EnsureSetting(ctx, s.Key, s.Value, s.Description); err != nil {
			log.Fatalf("Failed to seed settings: %v", err)
		}
	}

	// Create router
	router := api.NewRouter(database, api.Config{
		BaseURL:  *nspdURL,
		Pause:    *pause,
		Logger:   logger,
		Metrics:  metrics.New(prometheus.DefaultRegisterer),
		Gatherer: prometheus.DefaultGatherer,
	})

	// Start server
	addr := fmt.Sprintf(":%d", *port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("Received interrupt signal, shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown failed: %v", err)
		}
	}()

	log.Printf("Starting server on http://localhost%s", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}
