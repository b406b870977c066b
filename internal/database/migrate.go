// Package database はPostgreSQL接続とスキーマのマイグレーション管理を提供する。
// マイグレーションSQLはバイナリに埋め込まれ、migrateサブコマンドから適用される。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// RunMigrations は未適用のマイグレーションをすべて順番に適用する。
// すでに最新の場合は何もせずnilを返す（冪等）。
func RunMigrations(databaseURL string) error {
	source, err := iofs.New(schemaFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		version, dirty, _ := m.Version()
		return fmt.Errorf("migration failed at version %d (dirty=%t): %w", version, dirty, err)
	}

	return nil
}
