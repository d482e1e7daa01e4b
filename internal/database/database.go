package database

import (
	"strings"
	"time"

	"example.com/backstage/contacts/config"
	"example.com/backstage/contacts/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database holds the primary connection and the read replica. Read is the
// primary itself when no replica is configured.
type Database struct {
	Write *gorm.DB
	Read  *gorm.DB
}

// Connect opens the primary and, when configured, the read replica
func Connect(cfg config.DatabaseConfig) (*Database, error) {
	write, err := open(cfg.DSN, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	read := write
	if cfg.ReadOnlyDSN != "" && cfg.ReadOnlyDSN != cfg.DSN {
		read, err = open(cfg.ReadOnlyDSN, cfg)
		if err != nil {
			closeDB(write)
			return nil, errors.Wrap(err, "failed to connect to read replica")
		}
	}

	log.Info().Bool("replica", read != write).Msg("Connected to database")
	return &Database{Write: write, Read: read}, nil
}

// Migrate creates or updates the contact schema on the primary
func (d *Database) Migrate() error {
	if err := models.SetupModels(d.Write); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	return nil
}

// Ping checks both connections
func (d *Database) Ping() error {
	for _, db := range []*gorm.DB{d.Write, d.Read} {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.Ping(); err != nil {
			return errors.Wrap(err, "database ping failed")
		}
	}
	return nil
}

// Close closes the database connections
func (d *Database) Close() {
	if d.Read != d.Write {
		closeDB(d.Read)
	}
	closeDB(d.Write)
}

func open(dsn string, cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get DB instance")
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db, nil
}

// dialector picks sqlite for file DSNs and postgres for everything else
func dialector(dsn string) gorm.Dialector {
	if IsSQLite(dsn) {
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	}
	return postgres.Open(dsn)
}

// IsSQLite reports whether dsn points at a local sqlite database
func IsSQLite(dsn string) bool {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return true
	case strings.HasSuffix(dsn, ".db"), strings.Contains(dsn, ".db?"):
		return true
	}
	return false
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database connection")
	}
}
