// Package database owns the SQLite connection and schema migrations.
package database

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tongjisync/internal/config"
	"tongjisync/internal/reports"
	"tongjisync/internal/sites"
	"tongjisync/internal/users"
)

// DBManager wraps the gorm connection with tongjisync-specific migration methods.
type DBManager struct {
	db     *gorm.DB
	cfg    *config.Config
	logger *slog.Logger
}

// NewDBManager creates a new database manager for the configured SQLite database.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	return &DBManager{cfg: cfg, logger: logger}
}

// Init opens the database connection and applies connection pragmas.
func (dm *DBManager) Init() error {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dm.cfg.DatabaseName), gormCfg)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", dm.cfg.DatabaseName, err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")
	db.Exec("PRAGMA busy_timeout = 5000")

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access underlying sql.DB: %w", err)
	}
	if n := dm.cfg.GetMaxOpenConns(); n > 0 {
		sqlDB.SetMaxOpenConns(n)
	}
	if n := dm.cfg.GetMaxIdleConns(); n > 0 {
		sqlDB.SetMaxIdleConns(n)
	}

	dm.db = db
	return nil
}

// GetConnection returns the gorm database handle.
func (dm *DBManager) GetConnection() *gorm.DB {
	return dm.db
}

// AllModels returns every persisted model for migration.
func AllModels() []any {
	return []any{
		&users.User{},
		&sites.Site{},
		&sites.SubDirectory{},
		&reports.RawReport{},
		&reports.FactTrafficTrend{},
	}
}

// MigrateDatabase runs schema migrations for all models.
func (dm *DBManager) MigrateDatabase() error {
	if dm.db == nil {
		return gorm.ErrInvalidDB
	}

	// Run migrations in a transaction
	err := dm.db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(AllModels()...)
	})
	if err != nil {
		dm.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	dm.logger.Info("Database migration completed successfully")
	return nil
}

// Close closes the underlying database connection.
func (dm *DBManager) Close() error {
	if dm.db == nil {
		return nil
	}
	sqlDB, err := dm.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
