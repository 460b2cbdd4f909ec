package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // embedded database for lite mode
)

// setupLiteMode opens an embedded SQLite database under ./data for
// running without Postgres. Single connection: the driver does not
// support concurrent writers.
func setupLiteMode(logger *slog.Logger) (*sql.DB, error) {
	dataDir := "data"
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "veridion.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	logger.Info("lite mode: using embedded sqlite database", "path", dbPath)
	return db, nil
}
