package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"gridflow/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	storage.RegisterFactory("sqlite", New)
}

type SQLiteStorage struct {
	conn       *sql.DB
	records    storage.RecordStore
	quarantine storage.QuarantineStore
}

func New(dbPath string) (storage.StorageInterface, error) {
	slog.Info("Initializing SQLite storage", "path", dbPath)

	dbPath = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath)
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("Storage initialized successfully")

	return &SQLiteStorage{
		conn:       conn,
		records:    newRecordStore(conn),
		quarantine: newQuarantineStore(conn),
	}, nil
}

func runMigrations(conn *sql.DB) error {
	slog.Debug("Running database migrations")

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Debug("Migrations completed successfully")
	return nil
}

func (s *SQLiteStorage) GetConnection() *sql.DB {
	return s.conn
}

func (s *SQLiteStorage) Records() storage.RecordStore {
	return s.records
}

func (s *SQLiteStorage) Quarantine() storage.QuarantineStore {
	return s.quarantine
}

func (s *SQLiteStorage) Close(ctx context.Context) error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
