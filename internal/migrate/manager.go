// Package migrate applies the embedded schema migrations with goose.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"bazaar.app/internal/migrations"
	"bazaar.app/internal/obs"
)

// Seams for tests; goose itself needs a live database.
var (
	gooseUp = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDown = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.DownContext(ctx, db, dir, opts...)
	}
	gooseVersion = func(ctx context.Context, db *sql.DB) (int64, error) {
		return goose.GetDBVersionContext(ctx, db)
	}
)

// Manager runs migrations against one database handle.
type Manager struct {
	db *sql.DB
}

// NewManager configures goose for the embedded migrations and the pgx dialect.
func NewManager(db *sql.DB) (*Manager, error) {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("pgx"); err != nil {
		return nil, fmt.Errorf("goose dialect: %w", err)
	}
	return &Manager{db: db}, nil
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return gooseUp(ctx, m.db, ".")
}

// Down rolls back the most recent migration.
func (m *Manager) Down(ctx context.Context) error {
	return gooseDown(ctx, m.db, ".")
}

// Version reports the current schema version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	return gooseVersion(ctx, m.db)
}

type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...any) {
	obs.Logger().Info(fmt.Sprintf(format, v...), "component", "migrate")
}

func (gooseLogger) Fatalf(format string, v ...any) {
	obs.Logger().Error(fmt.Sprintf(format, v...), "component", "migrate")
}
