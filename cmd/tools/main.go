package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"land-search/internal/cadastral"
	"land-search/internal/db"
)

func main() {
	// Sub-commands
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	os.Args = os.Args[1:] // Shift args for flag parsing

	switch cmd {
	case "lookup":
		lookup()
	case "settings":
		settings()
	case "seed":
		seedSettings()
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: tools <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  lookup <cadastral number>  Query NSPD and print the mapped object")
	fmt.Println("  settings [-set key=value]  List or change runtime settings")
	fmt.Println("  seed                       Write default settings that are missing")
}

func lookup() {
	dbPath := flag.String("db", "data/land-search.db", "Database path (settings source)")
	nspdURL := flag.String("nspd", cadastral.DefaultBaseURL, "NSPD geoportal base URL")
	proxy := flag.String("proxy", "", "Proxy override")
	browser := flag.Bool("browser", false, "Use the headless browser transport")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("Usage: tools lookup [options] <cadastral number>")
	}

	database, err := db.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	values, err := database.SettingsMap(ctx)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	cfg := cadastral.ConfigFromSettings(values)
	cfg.BaseURL = *nspdURL
	if *proxy != "" {
		cfg.Proxy = *proxy
	}
	if *browser {
		cfg.Transport = cadastral.TransportBrowser
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client, err := cadastral.NewClient(cfg, cadastral.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create NSPD client: %v", err)
	}
	defer client.Close()

	obj, err := client.Find(ctx, flag.Arg(0))
	if err != nil {
		log.Fatalf("Lookup failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(obj); err != nil {
		log.Fatalf("Failed to encode object: %v", err)
	}
}

func settings() {
	dbPath := flag.String("db", "data/land-search.db", "Database path")
	set := flag.String("set", "", "key=value to store")
	flag.Parse()

	database, err := db.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()

	if *set != "" {
		key, value, ok := strings.Cut(*set, "=")
		if !ok || key == "" {
			log.Fatalf("Invalid -set %q, expected key=value", *set)
		}
		if _, err := database.SetSetting(ctx, key, &value, nil); err != nil {
			log.Fatalf("Failed to save setting: %v", err)
		}
		log.Printf("Saved %s", key)
	}

	list, err := database.ListSettings(ctx)
	if err != nil {
		log.Fatalf("Failed to list settings: %v", err)
	}
	for _, s := range list {
		value := "<null>"
		if s.Value != nil {
			value = *s.Value
		}
		fmt.Printf("%-20s %-30s %s\n", s.Key, value, s.UpdatedAt)
	}
}

func seedSettings() {
	dbPath := flag.String("db", "data/land-search.db", "Database path")
	flag.Parse()

	database, err := db.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	written := 0
	for _, s := range cadastral.DefaultSettings() {
		ok, err := database.EnsureSetting(ctx, s.Key, s.Value, s.Description)
		if err != nil {
			log.Fatalf("Failed to seed settings: %v", err)
		}
		if ok {
			written++
		}
	}

	log.Printf("Settings seeded successfully! Added %d of %d defaults", written, len(cadastral.DefaultSettings()))
}
