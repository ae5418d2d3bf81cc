package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"land-search/internal/cadastral"
	"land-search/internal/db"
	"land-search/internal/importer"
)

func main() {
	// Parse command line flags
	dbPath := flag.String("db", "", "Path to SQLite database")
	input := flag.String("input", "", "JSON file with import items (array or {\"items\": [...]}), - for stdin")
	nspdURL := flag.String("nspd", cadastral.DefaultBaseURL, "NSPD geoportal base URL")
	pause := flag.Duration("pause", importer.DefaultPause, "Pause between items")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: importer -input items.json [-db path] [-pause 100ms]")
		os.Exit(1)
	}

	// Determine database path
	if *dbPath == "" {
		cwd, _ := os.Getwd()
		*dbPath = filepath.Join(cwd, "data", "land-search.db")
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	items, err := readItems(*input)
	if err != nil {
		log.Fatalf("Failed to read items: %v", err)
	}
	log.Printf("Using database: %s", *dbPath)

	// Initialize database
	database, err := db.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received interrupt signal, finishing current item...")
		cancel()
	}()

	settings, err := database.SettingsMap(ctx)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	cfg := cadastral.ConfigFromSettings(settings)
	cfg.BaseURL = *nspdURL

	client, err := cadastral.NewClient(cfg, cadastral.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create NSPD client: %v", err)
	}
	defer client.Close()

	im := importer.New(database, client, importer.WithPause(*pause), importer.WithLogger(logger))

	// Progress goes to stdout as NDJSON
	enc := json.NewEncoder(os.Stdout)
	startTime := time.Now()

	summary, err := im.RunStream(ctx, items, func(e importer.Event) error {
		return enc.Encode(e)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("Import cancelled by user after %d of %d items", len(summary.Items), summary.Total)
			return
		}
		log.Fatalf("Import failed: %v", err)
	}

	log.Printf("Import complete in %s: %d created, %d updated, %d errors",
		time.Since(startTime).Round(time.Millisecond), summary.Created, summary.Updated, summary.Errors)
}

// readItems accepts a bare array or the {"items": [...]} request body
func readItems(path string) ([]importer.Item, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	data = bytes.TrimSpace(data)
	var items []importer.Item
	if bytes.HasPrefix(data, []byte("[")) {
		err = json.Unmarshal(data, &items)
	} else {
		var req struct {
			Items []importer.Item `json:"items"`
		}
		err = json.Unmarshal(data, &req)
		items = req.Items
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return items, nil
}
