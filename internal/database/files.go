package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"skycat/internal/catalog"
	"skycat/internal/model"
)

const fileColumns = "f.id, f.root_id, f.path, f.name, f.size, f.mtime_millis"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner, extra ...any) (*model.FileRecord, error) {
	var f model.FileRecord
	dest := append([]any{&f.ID, &f.RootID, &f.Path, &f.Name, &f.Size, &f.MtimeMillis}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteDatabase) queryFiles(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) FindFilesByRoot(ctx context.Context, rootID int64) ([]*model.FileRecord, error) {
	files, err := s.queryFiles(ctx,
		"SELECT "+fileColumns+" FROM files f WHERE f.root_id = ? ORDER BY f.path, f.name", rootID)
	if err != nil {
		return nil, fmt.Errorf("finding files by root: %w", err)
	}
	return files, nil
}

func (s *SQLiteDatabase) FindFile(ctx context.Context, id string) (*model.FileRecord, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files f WHERE f.id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return f, nil
}

func (s *SQLiteDatabase) FindFilesWithoutHeader(ctx context.Context, rootID int64) ([]*model.FileRecord, error) {
	files, err := s.queryFiles(ctx, `
		SELECT `+fileColumns+`
		FROM files f LEFT JOIN fits_headers h ON h.file_id = f.id
		WHERE f.root_id = ? AND h.file_id IS NULL
		ORDER BY f.path, f.name`, rootID)
	if err != nil {
		return nil, fmt.Errorf("finding files without header: %w", err)
	}
	return files, nil
}

func (s *SQLiteDatabase) FindUnsolvedFiles(ctx context.Context) ([]*model.FileRecord, error) {
	files, err := s.queryFiles(ctx, `
		SELECT `+fileColumns+`
		FROM files f
		JOIN fits_headers h ON h.file_id = f.id
		LEFT JOIN file_wcs w ON w.file_id = f.id
		WHERE h.format = 'fits' AND w.file_id IS NULL
		ORDER BY f.root_id, f.path, f.name`)
	if err != nil {
		return nil, fmt.Errorf("finding unsolved files: %w", err)
	}
	return files, nil
}

// ApplyChangeSet commits a scan result atomically. Removed and replaced
// records are deleted first, which cascades to their cached headers,
// metadata and solutions, so replacements can reuse (root, path, name).
func (s *SQLiteDatabase) ApplyChangeSet(ctx context.Context, cs *catalog.ChangeSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	del, err := tx.PrepareContext(ctx, "DELETE FROM files WHERE id = ?")
	if err != nil {
		return fmt.Errorf("preparing delete: %w", err)
	}
	defer del.Close()
	for _, f := range cs.Removed {
		if _, err := del.ExecContext(ctx, f.ID); err != nil {
			return fmt.Errorf("deleting file %s: %w", f.RelativePath(), err)
		}
	}
	for _, id := range cs.ChangedIDs {
		if _, err := del.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("deleting changed file %s: %w", id, err)
		}
	}

	ins, err := tx.PrepareContext(ctx,
		"INSERT INTO files (id, root_id, path, name, size, mtime_millis) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer ins.Close()
	for _, f := range cs.Inserted() {
		if _, err := ins.ExecContext(ctx, f.ID, cs.RootID, f.Path, f.Name, f.Size, f.MtimeMillis); err != nil {
			return fmt.Errorf("inserting file %s: %w", f.RelativePath(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
