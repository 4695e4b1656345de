package catalog

import (
	"context"
	"errors"
	"fmt"

	"skycat/internal/model"
	"skycat/internal/search"
)

// DefaultSearchLimit caps result sets when the filter does not.
const DefaultSearchLimit = 1000

// Search runs a structured query. Constraints whose values cannot be used
// are dropped and logged rather than failing the query.
func (s *Service) Search(ctx context.Context, f search.Filter) ([]*model.SearchResult, []*search.ValidationError, error) {
	q := search.Build(f, search.ColumnNone)
	s.logDropped(q)

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	results, err := s.database.Search(ctx, q, limit)
	if err != nil {
		return nil, q.Dropped, fmt.Errorf("searching catalog: %w", err)
	}
	return results, q.Dropped, nil
}

// Values lists the distinct values of column among records matching f,
// ignoring the constraint f places on column itself. "" stands for
// records where the value is missing.
func (s *Service) Values(ctx context.Context, f search.Filter, column search.Column) ([]string, error) {
	if !column.IsFacet() {
		return nil, fmt.Errorf("cannot list values of %q", column)
	}
	q := search.Build(f, column)
	s.logDropped(q)

	values, err := s.database.DistinctValues(ctx, q, column)
	if err != nil {
		return nil, fmt.Errorf("listing %s values: %w", column, err)
	}
	return values, nil
}

// ErrNoImage is returned when a file has no canonical image record to
// match calibration frames against.
var ErrNoImage = errors.New("file has no image metadata")

// CalibrationKind selects the calibration frames FindCalibration looks for.
type CalibrationKind string

const (
	CalibrationDark CalibrationKind = "dark"
	CalibrationFlat CalibrationKind = "flat"
)

// FindCalibration searches for darks or flats matching the acquisition
// settings of the cataloged file fileID. The filter used is returned
// alongside the results.
func (s *Service) FindCalibration(ctx context.Context, fileID string, kind CalibrationKind) ([]*model.SearchResult, search.Filter, error) {
	meta, err := s.database.FindImage(ctx, fileID)
	if err != nil {
		return nil, search.Filter{}, fmt.Errorf("loading image %s: %w", fileID, err)
	}
	if meta == nil {
		return nil, search.Filter{}, fmt.Errorf("%s: %w", fileID, ErrNoImage)
	}

	var f search.Filter
	switch kind {
	case CalibrationDark:
		f = search.FindDark(meta)
	case CalibrationFlat:
		f = search.FindFlat(meta)
	default:
		return nil, search.Filter{}, fmt.Errorf("unknown calibration kind %q", kind)
	}

	results, _, err := s.Search(ctx, f)
	if err != nil {
		return nil, f, err
	}
	return results, f, nil
}

func (s *Service) logDropped(q *search.Query) {
	for _, d := range q.Dropped {
		s.logger.Warn("filter constraint dropped", "column", string(d.Column), "value", d.Value, "err", d.Err)
	}
}
