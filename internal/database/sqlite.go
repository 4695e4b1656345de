package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skycat/internal/catalog"
	"skycat/internal/database/migrations"
	"skycat/internal/model"
)

// SQLiteDatabase implements catalog.Database on SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the catalog at path. path can be a file path or
// ":memory:". The schema is not touched; see Migrate and CheckMigrations.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing connection opened with
// OpenConnection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens a SQLite connection pool through the skycat driver,
// which registers the header SQL functions on every connection.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Storage roots

func (s *SQLiteDatabase) CreateRoot(ctx context.Context, name, path string) (*model.StorageRoot, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO library_roots (name, path) VALUES (?, ?)", name, path)
	if err != nil {
		return nil, fmt.Errorf("inserting root: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading root id: %w", err)
	}
	return &model.StorageRoot{ID: id, Name: name, Path: path}, nil
}

func (s *SQLiteDatabase) FindRootByName(ctx context.Context, name string) (*model.StorageRoot, error) {
	var r model.StorageRoot
	err := s.db.QueryRowContext(ctx, "SELECT id, name, path FROM library_roots WHERE name = ?", name).
		Scan(&r.ID, &r.Name, &r.Path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding root by name: %w", err)
	}
	return &r, nil
}

func (s *SQLiteDatabase) ListRoots(ctx context.Context) ([]*model.StorageRoot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, path FROM library_roots ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing roots: %w", err)
	}
	defer rows.Close()

	var out []*model.StorageRoot
	for rows.Next() {
		var r model.StorageRoot
		if err := rows.Scan(&r.ID, &r.Name, &r.Path); err != nil {
			return nil, fmt.Errorf("scanning root: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) DeleteRoot(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM library_roots WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting root: %w", err)
	}
	return nil
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(ctx context.Context, operation, parameters string, startedAt time.Time) (*model.Operation, error) {
	now := startedAt.UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO operations (operation, parameters, started_at, status) VALUES (?, ?, ?, 'running')",
		operation, parameters, now)
	if err != nil {
		return nil, fmt.Errorf("inserting operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return &model.Operation{ID: id, Operation: operation, Parameters: parameters, StartedAt: now, Status: "running"}, nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE operations SET finished_at = ?, status = ? WHERE id = ?", finishedAt.UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*model.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, parameters, started_at, finished_at, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var out []*model.Operation
	for rows.Next() {
		var (
			op       model.Operation
			finished sql.NullTime
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &finished, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finished.Valid {
			op.FinishedAt = &finished.Time
		}
		out = append(out, &op)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) MaxOperationID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM operations").Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max operation id: %w", err)
	}
	return id, nil
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using
// VACUUM INTO. destPath must not exist.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ catalog.Database = (*SQLiteDatabase)(nil)
