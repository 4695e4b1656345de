package database

import (
	"fmt"
	"os"
	"path/filepath"

	"skycat/internal/config"
)

// Path returns the catalog file for a sqlite configuration.
func Path(cfg config.DatabaseConfig, catalogID string) string {
	return filepath.Join(cfg.DataDir, catalogID+".db")
}

// NewDatabaseFromConfig opens the catalog database selected by cfg. A
// memory database is migrated on open since it starts empty every time.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, catalogID string) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteDatabase(Path(cfg, catalogID))
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating memory database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
