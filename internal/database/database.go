// Package database opens the gorm connection used for run history.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/cinerelay/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured database. sqlite is the default; postgres
// needs database.url.
func Open(cfg config.DatabaseConfig, log hclog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	gcfg := &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(LogLevel(cfg.LogLevel)),
		SkipDefaultTransaction: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(cfg.Type) {
	case "postgres", "postgresql":
		if cfg.URL == "" {
			return nil, fmt.Errorf("database.url is required for postgres")
		}
		db, err = gorm.Open(postgres.Open(cfg.URL), gcfg)
	case "sqlite", "":
		path := SQLitePath(cfg)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err = gorm.Open(sqlite.Open(path), gcfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Type, err)
	}

	log.Info("database connected", "type", cfg.Type)
	return db, nil
}

// SQLitePath is database.path, or cinerelay.db inside database.data_dir
func SQLitePath(cfg config.DatabaseConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	dir := cfg.DataDir
	if dir == "" {
		dir = "./data"
	}
	return filepath.Join(dir, "cinerelay.db")
}

// LogLevel maps the config string onto gorm's logger levels
func LogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent", "off":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	}
	return gormlogger.Warn
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
