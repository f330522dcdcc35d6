package store

import (
	"fmt"
	"time"

	"github.com/claboran/orchestrator-worker-poc/internal/config"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	pgMaxIdleConns = 10
	pgMaxOpenConns = 100
)

// InitDB opens the database described by cfg. Postgres goes through the
// instrumented pgx driver, anything else is treated as a sqlite path.
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	log := zap.S().Named("gorm")

	db, err := gorm.Open(dialector(cfg), &gorm.Config{
		Logger:         newGormLogger(),
		TranslateError: true,
	})
	if err != nil {
		log.Errorw("failed to open database", "type", cfg.Database.Type, "error", err)
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Errorw("failed to access connection pool", "error", err)
		return nil, err
	}

	if !isPostgres(cfg) {
		// one connection serializes transactions, sqlite has no row locks, and
		// keeps an in-memory database alive for the pool lifetime
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, err
		}
		return db, nil
	}

	sqlDB.SetMaxIdleConns(pgMaxIdleConns)
	sqlDB.SetMaxOpenConns(pgMaxOpenConns)

	var version string
	if err := db.Raw("SELECT version()").Scan(&version).Error; err != nil {
		log.Errorw("failed to query server version", "error", err)
		return nil, err
	}
	log.Infow("connected to postgres", "version", version, "host", cfg.Database.Hostname)

	return db, nil
}

func isPostgres(cfg *config.Config) bool {
	return cfg.Database.Type == "pgsql"
}

func dialector(cfg *config.Config) gorm.Dialector {
	db := cfg.Database
	if !isPostgres(cfg) {
		return sqlite.Open(db.Name)
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s", db.Hostname, db.Port, db.User, db.Password)
	if db.Name != "" {
		dsn += " dbname=" + db.Name
	}
	registerInstrumentedDriver()
	return postgres.New(postgres.Config{DriverName: instrumentedDriver, DSN: dsn})
}

func newGormLogger() logger.Interface {
	return logger.New(logrus.New(), logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
	})
}
