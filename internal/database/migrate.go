// Package database はデータベース接続とマイグレーション管理を提供する。
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

// Dialect はマイグレーションの方言（ディレクトリ名）。
type Dialect string

const (
	// DialectPostgres はPostgreSQL用のマイグレーション。
	DialectPostgres Dialect = "postgres"
	// DialectSQLite はSQLite用のマイグレーション。
	DialectSQLite Dialect = "sqlite"
)

// SQLiteMigrationURL はSQLiteファイルパスをgolang-migrate用のURLに変換する。
func SQLiteMigrationURL(path string) string {
	return "sqlite://" + path
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URL、またはSQLiteMigrationURLで変換したURLを指定する。
func NewMigrator(dialect Dialect, databaseURL string) (*migrate.Migrate, error) {
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported migration dialect: %q", dialect)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(dialect Dialect, databaseURL string) error {
	m, err := NewMigrator(dialect, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Version は現在適用されているマイグレーションのバージョンを返す。
// 未適用の場合は0を返す。
func Version(dialect Dialect, databaseURL string) (uint, bool, error) {
	m, err := NewMigrator(dialect, databaseURL)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return v, dirty, nil
}
