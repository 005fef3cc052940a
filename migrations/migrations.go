// Package migrations holds the Postgres schema of the audit sink and applies
// it with golang-migrate. The SQL files are embedded; a directory of
// NNNNNN_name.up.sql / .down.sql files can replace them at run time.
package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed *.sql
var files embed.FS

// Files returns the embedded migration set.
func Files() embed.FS {
	return files
}

// SourceURL is the migrate source for dir, or "" for the embedded set.
func SourceURL(dir string) string {
	if dir == "" {
		return ""
	}
	return "file://" + dir
}

func newMigrator(databaseURL, dir string) (*migrate.Migrate, error) {
	if dir != "" {
		return migrate.New(SourceURL(dir), databaseURL)
	}
	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return migrate.NewWithSourceInstance("iofs", src, databaseURL)
}

// Up applies every pending migration. databaseURL must be a postgres:// URL.
func Up(databaseURL, dir string, logger *zap.Logger) error {
	return run(databaseURL, dir, logger, "apply", (*migrate.Migrate).Up)
}

// Down rolls every migration back.
func Down(databaseURL, dir string, logger *zap.Logger) error {
	return run(databaseURL, dir, logger, "roll back", (*migrate.Migrate).Down)
}

func run(databaseURL, dir string, logger *zap.Logger, verb string, step func(*migrate.Migrate) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	m, err := newMigrator(databaseURL, dir)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err := errors.Join(srcErr, dbErr); err != nil {
			logger.Warn("close migrator", zap.Error(err))
		}
	}()

	err = step(m)
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("audit schema unchanged")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s migrations: %w", verb, err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info("audit migrations rolled back")
	case err != nil:
		logger.Warn("read migration version", zap.Error(err))
	default:
		logger.Info("audit migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	return nil
}
