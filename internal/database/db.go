package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/config"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// sqliteParams lets concurrent per-user syncs wait on the write lock instead of failing
	sqliteParams = "_busy_timeout=5000&_journal_mode=WAL"

	pgMaxOpenConns    = 20
	pgMaxIdleConns    = 5
	pgConnMaxLifetime = 30 * time.Minute
)

// Open connects to the database selected by cfg and migrates the schema.
// A postgres database_url wins over the SQLite path.
func Open(cfg *config.Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	}
	if cfg.IsPostgres() {
		return openPostgres(cfg.DatabaseURL, gormConfig)
	}
	return openSQLite(cfg.DatabasePath, gormConfig)
}

// Initialize opens a quiet SQLite database at dbPath; tests and tools use it
func Initialize(dbPath string) (*gorm.DB, error) {
	return openSQLite(dbPath, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func openPostgres(dsn string, gormConfig *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(pgMaxOpenConns)
	sqlDB.SetMaxIdleConns(pgMaxIdleConns)
	sqlDB.SetConnMaxLifetime(pgConnMaxLifetime)

	return migrated(db)
}

func openSQLite(dbPath string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?" + sqliteParams
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	return migrated(db)
}

func migrated(db *gorm.DB) (*gorm.DB, error) {
	err := db.AutoMigrate(
		&models.User{},
		&models.Email{},
		&models.Approval{},
		&models.Task{},
		&models.CalendarEvent{},
		&models.AILog{},
		&models.Log{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// gormLogLevel maps log_level onto gorm's logger; SQL is only traced at DEBUG
func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return logger.Info
	case "ERROR":
		return logger.Error
	default:
		return logger.Warn
	}
}
