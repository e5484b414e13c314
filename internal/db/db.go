package db

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Pool holds database/sql connection pool limits. Zero values leave the
// driver defaults in place.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// IsPostgresDSN reports whether dsn addresses a Postgres server rather than a
// SQLite file.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// Open connects to Postgres for postgres:// URLs and key=value DSNs, and to a
// SQLite file otherwise.
func Open(dsn string, pool Pool) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	var (
		conn *gorm.DB
		err  error
	)
	if IsPostgresDSN(dsn) {
		conn, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		conn, err = gorm.Open(sqlite.Open(sqliteDSN(dsn)), cfg)
		// one writer at a time; the file lock would serialise it anyway
		pool.MaxOpenConns = 1
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	return conn, nil
}

func sqliteDSN(dsn string) string {
	params := []string{}
	if !strings.Contains(dsn, "_foreign_keys") {
		params = append(params, "_foreign_keys=on")
	}
	if !strings.Contains(dsn, "_busy_timeout") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Migrate runs GORM auto-migrations for the league tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("db connection is nil")
	}
	if err := conn.AutoMigrate(
		&Guild{},
		&Player{},
		&Round{},
		&Submission{},
		&ThemeSubmission{},
		&RoundEvent{},
	); err != nil {
		return err
	}
	slog.Info("database migration complete", "dialect", conn.Dialector.Name())
	return nil
}
