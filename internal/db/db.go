package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/EmpoweredVote/EV-Reforms/internal/config"
	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
)

// Open connects to DATABASE_URL. SQL is logged through the process logger at
// debug level, slow queries at warn.
func Open(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, config.ErrMissingDatabaseURL
	}

	level := logger.Warn
	if logging.Default().GetLevel() <= zerolog.DebugLevel {
		level = logger.Info
	}
	lg := logger.New(gormWriter{log: logging.Default()}, logger.Config{
		SlowThreshold:             cfg.SlowQuery,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: lg,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logging.Default().Info().Msg("connected to database")
	return db, nil
}

// Close releases the connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormWriter feeds gorm's logger into zerolog.
type gormWriter struct {
	log *zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Debug().Str("component", "gorm").Msgf(format, args...)
}
