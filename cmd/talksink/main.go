package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"talksink/internal/app"
	"talksink/internal/config"
	"talksink/internal/logging"
	"talksink/internal/repl"
	"talksink/internal/storage"
)

func main() {
	importManifest := flag.String("import-manifest", "", "import a downloaded-library manifest and exit")
	exportManifest := flag.String("export-manifest", "", "export the downloaded-library manifest and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("failed to resolve home directory: %v", err)
	}

	baseDir := filepath.Join(home, ".talksink")
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		log.Fatalf("failed to create config directory: %v", err)
	}

	logPath := filepath.Join(baseDir, "talksink.log")
	logging.Configure(logPath)

	configPath := filepath.Join(baseDir, "config.yaml")
	cfg, err := config.Ensure(ctx, configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	dbPath := filepath.Join(baseDir, "app.db")
	db, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	application := app.New(cfg, configPath, db)
	defer application.Close()

	if *importManifest != "" && *exportManifest != "" {
		fmt.Fprintln(os.Stderr, "error: --import-manifest and --export-manifest cannot be used together")
		os.Exit(1)
	}

	if *exportManifest != "" {
		count, err := application.ExportManifest(ctx, *exportManifest)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error exporting manifest: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stdout, "Exported %d downloaded talks to %s.\n", count, *exportManifest)
		return
	}

	if *importManifest != "" {
		imported, skipped, err := application.ImportManifest(ctx, *importManifest)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error importing manifest: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stdout, "Imported %d downloaded talks, skipped %d with missing files.\n", imported, skipped)
		return
	}

	if err := application.Initialize(ctx); err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}

	if err := repl.Run(ctx, application); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
