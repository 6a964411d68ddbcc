package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelbay/modelbay/internal/config"
	"github.com/modelbay/modelbay/internal/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Initialize sets up the database connection from configuration
func Initialize(cfg *config.DatabaseConfig) error {
	var err error

	switch cfg.Type {
	case "postgres":
		DB, err = connectPostgres(cfg)
	case "sqlite":
		DB, err = connectSQLite(cfg)
	default:
		return fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	if err != nil {
		return fmt.Errorf("failed to connect to %s database: %w", cfg.Type, err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	logger.Info("✅ Database initialized with %s", cfg.Type)
	return nil
}

func connectPostgres(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port)
	}

	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogMode(cfg),
	})
}

func connectSQLite(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "modelbay.db")
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	return gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormLogMode(cfg),
	})
}

func gormLogMode(cfg *config.DatabaseConfig) gormlogger.Interface {
	if cfg.LogQueries {
		return gormlogger.Default.LogMode(gormlogger.Info)
	}
	return gormlogger.Default.LogMode(gormlogger.Warn)
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// SetDB replaces the database instance (used by tests)
func SetDB(db *gorm.DB) {
	DB = db
}

// Ping verifies the database connection is alive
func Ping() error {
	if DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
