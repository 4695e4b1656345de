package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"skycat/internal/header"
	"skycat/internal/model"
)

const imageColumns = `i.file_id, i.image_type, i.filter_name, i.camera, i.telescope, i.object_name,
	i.exposure, i.gain, i.sensor_offset, i.binning, i.set_temp, i.date_obs,
	i.coord_ra, i.coord_dec, i.coord_pix256`

// imageRow receives the nullable image columns of one row.
type imageRow struct {
	fileID                               sql.NullString
	imageType, filter, camera, telescope sql.NullString
	object                               sql.NullString
	exposure, setTemp                    sql.NullFloat64
	gain, offset, binning                sql.NullInt64
	dateObs                              sql.NullTime
	ra, dec                              sql.NullFloat64
	pixel                                sql.NullInt64
}

func (r *imageRow) dest() []any {
	return []any{&r.fileID, &r.imageType, &r.filter, &r.camera, &r.telescope, &r.object,
		&r.exposure, &r.gain, &r.offset, &r.binning, &r.setTemp, &r.dateObs,
		&r.ra, &r.dec, &r.pixel}
}

// image returns nil when the row had no images match.
func (r *imageRow) image() *model.ImageMetadata {
	if !r.fileID.Valid {
		return nil
	}
	m := &model.ImageMetadata{
		FileID:     r.fileID.String,
		ImageType:  r.imageType.String,
		Filter:     r.filter.String,
		Camera:     r.camera.String,
		Telescope:  r.telescope.String,
		ObjectName: r.object.String,
		Exposure:   nullFloat(r.exposure),
		Gain:       nullInt(r.gain),
		Offset:     nullInt(r.offset),
		Binning:    nullInt(r.binning),
		SetTemp:    nullFloat(r.setTemp),
	}
	if r.dateObs.Valid {
		t := r.dateObs.Time.UTC()
		m.DateObs = &t
	}
	if r.ra.Valid && r.dec.Valid && r.pixel.Valid {
		m.Position = &model.SkyPosition{RA: r.ra.Float64, Dec: r.dec.Float64, Pixel: r.pixel.Int64}
	}
	return m
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

// nullText stores empty strings as NULL.
func nullText(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func ptrValue[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// replaceImage removes the canonical record of fileID and writes meta in
// its place.
func replaceImage(ctx context.Context, ex execer, fileID string, meta *model.ImageMetadata) error {
	if _, err := ex.ExecContext(ctx, "DELETE FROM images WHERE file_id = ?", fileID); err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	if meta == nil {
		return nil
	}

	var ra, dec, pix any
	if p := meta.Position; p != nil {
		ra, dec, pix = p.RA, p.Dec, p.Pixel
	}
	var dateObs any
	if meta.DateObs != nil {
		dateObs = meta.DateObs.UTC()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO images (file_id, image_type, filter_name, camera, telescope, object_name,
			exposure, gain, sensor_offset, binning, set_temp, date_obs, coord_ra, coord_dec, coord_pix256)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fileID, nullText(meta.ImageType), nullText(meta.Filter), nullText(meta.Camera),
		nullText(meta.Telescope), nullText(meta.ObjectName),
		ptrValue(meta.Exposure), ptrValue(meta.Gain), ptrValue(meta.Offset), ptrValue(meta.Binning),
		ptrValue(meta.SetTemp), dateObs, ra, dec, pix)
	if err != nil {
		return fmt.Errorf("inserting image: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) SaveHeader(ctx context.Context, fileID string, raw *header.Raw, meta *model.ImageMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO fits_headers (file_id, format, header) VALUES (?, ?, ?)",
		fileID, string(raw.Format), compress(raw.Data))
	if err != nil {
		return fmt.Errorf("saving header: %w", err)
	}
	if err := replaceImage(ctx, tx, fileID, meta); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindHeader(ctx context.Context, fileID string) (*header.Raw, error) {
	var (
		format string
		blob   []byte
	)
	err := s.db.QueryRowContext(ctx, "SELECT format, header FROM fits_headers WHERE file_id = ?", fileID).
		Scan(&format, &blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding header: %w", err)
	}
	data, err := decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("header of %s: %w", fileID, err)
	}
	return &header.Raw{Format: header.Format(format), Data: data}, nil
}

func (s *SQLiteDatabase) ListHeaderFileIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT file_id FROM fits_headers ORDER BY file_id")
	if err != nil {
		return nil, fmt.Errorf("listing headers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning header id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteDatabase) SaveImage(ctx context.Context, fileID string, meta *model.ImageMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := replaceImage(ctx, tx, fileID, meta); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindImage(ctx context.Context, fileID string) (*model.ImageMetadata, error) {
	var r imageRow
	err := s.db.QueryRowContext(ctx, "SELECT "+imageColumns+" FROM images i WHERE i.file_id = ?", fileID).
		Scan(r.dest()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding image: %w", err)
	}
	return r.image(), nil
}

// SaveSolution stores the WCS cards and, when pos is set, moves the
// canonical position there. A file without a canonical record gets one
// holding just the position.
func (s *SQLiteDatabase) SaveSolution(ctx context.Context, fileID string, wcs *header.Header, pos *model.SkyPosition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, "INSERT OR REPLACE INTO file_wcs (file_id, wcs) VALUES (?, ?)",
		fileID, compress(wcs.Bytes()))
	if err != nil {
		return fmt.Errorf("saving solution: %w", err)
	}
	if pos != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO images (file_id, coord_ra, coord_dec, coord_pix256) VALUES (?, ?, ?, ?)
			ON CONFLICT (file_id) DO UPDATE SET
				coord_ra = excluded.coord_ra,
				coord_dec = excluded.coord_dec,
				coord_pix256 = excluded.coord_pix256`,
			fileID, pos.RA, pos.Dec, pos.Pixel)
		if err != nil {
			return fmt.Errorf("updating position: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindSolution(ctx context.Context, fileID string) (*header.Header, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT wcs FROM file_wcs WHERE file_id = ?", fileID).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding solution: %w", err)
	}
	data, err := decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("solution of %s: %w", fileID, err)
	}
	return header.ParseHeader(data), nil
}
