package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	pkgerrors "github.com/pkg/errors"
)

// DefaultMigrationFolder holds the schema for the link, golden and source record tables
const DefaultMigrationFolder = "db/pg"

var upMigration = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

// migrateLogger adapts the service logger to migrate.Logger
type migrateLogger struct {
	ectologger.Logger
}

func (l migrateLogger) Verbose() bool {
	return true
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

type MigrationConfig struct {
	MigrationFolderPath string
	// Version pins the schema to a version instead of the newest one
	Version uint
	// Force marks the schema clean at this version before migrating
	Force int
	// AutoRollback forces a dirty schema back to the version it started at
	AutoRollback bool
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	if config.MigrationFolderPath == "" {
		config.MigrationFolderPath = DefaultMigrationFolder
	}
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

// MigrateDSN applies the migrations over a dedicated connection that is
// closed afterwards
func (ms *MigrationService) MigrateDSN(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to open migration connection")
	}
	defer db.Close()
	return ms.MigratePostgres(db)
}

// MigratePostgres applies the migrations to an open Postgres pool
func (ms *MigrationService) MigratePostgres(db *sql.DB) error {
	folder, err := ms.folder()
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create postgres migration driver")
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+folder, "postgres", driver)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create migrate instance")
	}
	m.Log = migrateLogger{Logger: ms.logger}

	return ms.run(m, folder)
}

// folder resolves the migration folder against the working directory
func (ms *MigrationService) folder() (string, error) {
	folder := ms.config.MigrationFolderPath
	if !filepath.IsAbs(folder) {
		if wd, err := os.Getwd(); err == nil {
			folder = filepath.Join(wd, folder)
		}
	}
	if _, err := os.Stat(folder); err != nil {
		return "", pkgerrors.Wrapf(err, "migration folder %s does not exist", folder)
	}
	return folder, nil
}

func (ms *MigrationService) run(m *migrate.Migrate, folder string) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			return pkgerrors.Wrapf(err, "failed to force schema to version %d", ms.config.Force)
		}
	}

	startVersion, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		ms.logger.WithError(err).Warn("Failed to read schema version")
	}

	start := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}
	log := ms.logger.WithFields(map[string]any{
		"from_version": startVersion,
		"elapsed":      time.Since(start).String(),
	})

	switch {
	case err == nil:
		log.Info("Applied schema migrations")
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		log.Info("Schema is up to date")
		return nil
	case strings.Contains(err.Error(), "no migration found for version"):
		// the schema is ahead of this build's migration files
		latest, latestErr := latestVersion(folder)
		if latestErr != nil {
			return pkgerrors.Wrap(latestErr, "failed to find the newest migration")
		}
		log.Warnf("Schema version %d has no migration file; pinning to %d", startVersion, latest)
		return m.Force(latest)
	}

	return ms.rollback(m, startVersion, err)
}

// rollback forces a dirty schema back to where it started. The migration
// error is returned either way so the service does not start on a bad schema.
func (ms *MigrationService) rollback(m *migrate.Migrate, startVersion uint, cause error) error {
	version, dirty, err := m.Version()
	log := ms.logger.WithError(cause).WithFields(map[string]any{
		"version": version,
		"dirty":   dirty,
	})
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Error("Schema migration failed; version unknown")
		return cause
	}
	if !dirty || !ms.config.AutoRollback {
		log.Error("Schema migration failed")
		return cause
	}

	target := int(startVersion)
	if startVersion == 0 {
		target = int(version) - 1
	}
	log.Warnf("Schema migration failed; forcing dirty version %d back to %d", version, target)
	if err := m.Force(target); err != nil {
		return fmt.Errorf("%w (rollback to %d failed: %v)", cause, target, err)
	}
	return cause
}

func latestVersion(folder string) (int, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0, err
	}
	latest := -1
	for _, entry := range entries {
		match := upMigration.FindStringSubmatch(entry.Name())
		if entry.IsDir() || match == nil {
			continue
		}
		version, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, err
		}
		latest = max(latest, version)
	}
	if latest < 0 {
		return 0, fmt.Errorf("no migration files in %s", folder)
	}
	return latest, nil
}
