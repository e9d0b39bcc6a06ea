package main

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gocausal/adapters/postgres"
	"gocausal/domain/core"
	"gocausal/domain/effect"
	"gocausal/internal/forest"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		log.Fatal("Usage: migrate <database_url> [snapshot_dir]")
	}
	databaseURL := os.Args[1]

	ctx := context.Background()
	db, err := postgres.Open(ctx, databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}
	log.Printf("Schema is up to date")

	if len(os.Args) < 3 {
		return
	}
	snapshotDir := os.Args[2]

	files, err := filepath.Glob(filepath.Join(snapshotDir, "*.json"))
	if err != nil {
		log.Fatalf("Failed to list snapshot files: %v", err)
	}
	log.Printf("Found %d snapshot files to import", len(files))

	repo := postgres.NewForestRepository(db)
	imported := 0
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			log.Printf("Skipping %s: %v", file, err)
			continue
		}
		f, err := forest.ReadJSON(bytes.NewReader(raw))
		if err != nil {
			log.Printf("Skipping %s: %v", file, err)
			continue
		}

		// Imported forests carry no training data, so they are
		// fingerprinted by snapshot contents.
		rec := &effect.ModelRecord{
			ID:          core.NewModelID(),
			Name:        strings.TrimSuffix(filepath.Base(file), ".json"),
			NumTrees:    f.NumTrees(),
			NumFeatures: f.NumFeatures(),
			NumTrain:    f.NumTrain(),
			Dropped:     f.Report().Dropped,
			Fingerprint: core.NewHash(raw),
			Snapshot:    raw,
			CreatedAt:   time.Now().UTC(),
		}
		if err := repo.Save(ctx, rec); err != nil {
			log.Printf("Failed to import %s: %v", file, err)
			continue
		}
		imported++
		log.Printf("Imported %s as %s", file, rec.ID)
	}

	log.Printf("Import complete: %d/%d snapshots imported", imported, len(files))
}
