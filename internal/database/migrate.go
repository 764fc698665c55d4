// Package database はデータベース接続とマイグレーション管理を提供する。
// 資格情報ストア（postgres / sqlite）のスキーマを管理する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// MigrationURL はドライバとDSNからgolang-migrate用のURLを組み立てる。
func MigrationURL(driver, dsn string) string {
	if driver == DriverSQLite {
		return "sqlite://" + dsn
	}
	return dsn
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// driverごとに別のマイグレーションセットを使用する。
func NewMigrator(driver, dsn string) (*migrate.Migrate, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, MigrationURL(driver, dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(driver, dsn string) error {
	m, err := NewMigrator(driver, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
