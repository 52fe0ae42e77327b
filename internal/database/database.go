package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func isPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

// NewDatabase opens a postgres database for postgres:// urls and treats
// anything else as a sqlite file path, then brings the schema up to date.
func NewDatabase(url string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if isPostgresURL(url) {
		dialector = postgres.Open(url)
	} else {
		if !strings.HasPrefix(url, "file:") && url != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(url), os.ModePerm); err != nil {
				return nil, fmt.Errorf("error creating database directory: %w", err)
			}
		}
		dialector = sqlite.Open(url)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if db.Dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("error getting sqlite connection: %w", err)
		}
		// A single connection keeps in-memory databases shared and avoids
		// "database is locked" errors between the api and the worker.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	slog.Info("database ready", "dialect", db.Dialector.Name())

	return db, nil
}
