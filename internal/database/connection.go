package database

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/thereayou/cabal/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the Postgres database at dsn and migrates the schema.
func Connect(dsn string, log zerolog.Logger) (*Database, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(log, logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	d := NewDatabase(db)
	if err := d.Migrate(); err != nil {
		return nil, err
	}
	log.Info().Msg("postgres connected")
	return d, nil
}

func (d *Database) Migrate() error {
	if err := d.db.AutoMigrate(&models.User{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
