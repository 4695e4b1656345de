package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"skycat/internal/model"
	"skycat/internal/search"
)

// from joins the tables a search query refers to. With imagesOnly set,
// files without a canonical record are left out.
func from(q *search.Query, imagesOnly bool) string {
	var b strings.Builder
	b.WriteString(`
		FROM files f
		JOIN library_roots r ON r.id = f.root_id`)
	if imagesOnly {
		b.WriteString(`
		JOIN images i ON i.file_id = f.id`)
	} else {
		b.WriteString(`
		LEFT JOIN images i ON i.file_id = f.id`)
	}
	if q.JoinHeaders {
		b.WriteString(`
		JOIN fits_headers h ON h.file_id = f.id`)
	}
	if q.Where != "" {
		b.WriteString("\n\t\tWHERE ")
		b.WriteString(q.Where)
	}
	return b.String()
}

func (s *SQLiteDatabase) Search(ctx context.Context, q *search.Query, limit int) ([]*model.SearchResult, error) {
	query := "SELECT " + fileColumns + ", r.name, r.path, " + imageColumns + from(q, false) +
		"\n\t\tORDER BY " + q.OrderBy + "\n\t\tLIMIT ?"
	args := append(append([]any{}, q.Args...), limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	defer rows.Close()

	var out []*model.SearchResult
	for rows.Next() {
		var (
			res model.SearchResult
			img imageRow
		)
		extra := append([]any{&res.RootName, &res.RootPath}, img.dest()...)
		f, err := scanFile(rows, extra...)
		if err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		res.File = *f
		res.Image = img.image()
		out = append(out, &res)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) DistinctValues(ctx context.Context, q *search.Query, column search.Column) ([]string, error) {
	expr := column.Expr()
	if expr == "" {
		return nil, fmt.Errorf("unknown column %q", column)
	}
	query := "SELECT DISTINCT " + expr + from(q, true) + "\n\t\tORDER BY 1"

	rows, err := s.db.QueryContext(ctx, query, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("listing distinct values: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var out []string
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning value: %w", err)
		}
		text := formatValue(v)
		if !seen[text] {
			seen[text] = true
			out = append(out, text)
		}
	}
	return out, rows.Err()
}

// formatValue renders a column value for display, with "" for NULL.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []byte:
		return string(x)
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
