package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗し、手動対応が必要な状態を示す。
var ErrDirtySchema = errors.New("schema is dirty")

// NewMigrator は埋め込みマイグレーションを読むmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations は未適用のマイグレーションを適用し、適用後のスキーマバージョンを返す。
//
// 1. 現在のバージョンを確認し、dirtyの場合はErrDirtySchemaを返して何も適用しない。
// 2. Upを実行する。すでに最新の場合はエラーにしない。
// 3. 適用前後のバージョンをログに残す。
func RunMigrations(databaseURL string, logger *slog.Logger) (uint, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	before, dirty, err := schemaVersion(m)
	if err != nil {
		return 0, err
	}
	if dirty {
		return before, fmt.Errorf("version %d: %w", before, ErrDirtySchema)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return before, fmt.Errorf("failed to run migrations: %w", err)
	}

	after, _, err := schemaVersion(m)
	if err != nil {
		return before, err
	}
	logger.Info("schema migrated",
		slog.Uint64("from_version", uint64(before)),
		slog.Uint64("to_version", uint64(after)),
	)
	return after, nil
}

// schemaVersion は現在のスキーマバージョンを返す。未適用の場合は0を返す。
func schemaVersion(m *migrate.Migrate) (uint, bool, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}
