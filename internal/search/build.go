package search

import (
	"fmt"
	"strconv"
	"strings"

	"skycat/internal/healpix"
	"skycat/internal/normalize"
)

// Query is the SQL form of a Filter. Where refers to the f (files),
// i (images) and, when JoinHeaders is set, h (fits_headers) aliases.
type Query struct {
	Where       string // conjunction of constraints, "" when unconstrained
	Args        []any
	JoinHeaders bool
	OrderBy     string
	Dropped     []*ValidationError
}

type builder struct {
	conds   []string
	args    []any
	exclude Column
	dropped []*ValidationError
}

func (b *builder) add(cond string, args ...any) {
	b.conds = append(b.conds, cond)
	b.args = append(b.args, args...)
}

func (b *builder) drop(c Column, value string, err error) {
	b.dropped = append(b.dropped, &ValidationError{Column: c, Value: value, Err: err})
}

func (b *builder) skip(c Column) bool {
	return b.exclude != ColumnNone && b.exclude == c
}

// Build translates f into a query. The constraint on exclude, if any, is
// left out so that facet listings for a column are not narrowed by that
// column's own selection.
func Build(f Filter, exclude Column) *Query {
	b := &builder{exclude: exclude}

	if !b.skip(ColumnPath) {
		b.locations(f.Locations, f.ExactPaths)
	}

	b.equal(ColumnImageType, f.ImageType)
	b.equal(ColumnFilter, f.Filter)
	b.equal(ColumnCamera, f.Camera)

	b.contains(ColumnTelescope, f.Telescope)
	b.contains(ColumnObject, f.Object)
	b.contains(ColumnFileName, f.FileName)

	b.number(ColumnExposure, f.Exposure, parseFloat)
	b.number(ColumnGain, f.Gain, parseInt)
	b.number(ColumnOffset, f.Offset, parseInt)
	b.number(ColumnBinning, f.Binning, parseInt)
	b.number(ColumnSetTemp, f.SetTemp, parseFloat)

	if !b.skip(ColumnDate) {
		if f.From != nil {
			b.add("i.date_obs >= ?", f.From.UTC())
		}
		if f.To != nil {
			b.add("i.date_obs <= ?", f.To.UTC())
		}
	}

	if !b.skip(ColumnPosition) && f.RA != "" && f.Dec != "" {
		b.cone(f.RA, f.Dec, f.Radius)
	}

	q := &Query{OrderBy: orderBy(f.Sort, f.Ascending)}
	if f.HeaderText != "" {
		b.header(f.HeaderText)
		q.JoinHeaders = true
	}

	q.Where = strings.Join(b.conds, " AND ")
	q.Args = b.args
	q.Dropped = b.dropped
	return q
}

// normalizePath turns a user supplied directory into the stored form:
// forward slashes, no leading slash, and a trailing slash unless empty.
func normalizePath(p string) string {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	if p == "" || p == "." {
		return ""
	}
	return p + "/"
}

// pathUpperBound sorts after every stored path that starts with prefix.
// Stored paths compare bytewise, and no UTF-8 sequence exceeds U+10FFFF.
const pathUpperBound = "\U0010FFFF"

func (b *builder) locations(locs []Location, exact bool) {
	var (
		conds []string
		args  []any
	)
	for _, loc := range locs {
		path := normalizePath(loc.Path)
		if loc.RootID == 0 && path == "" {
			if exact {
				// Nothing lives directly in the virtual all-roots node.
				continue
			}
			return
		}

		var parts []string
		if loc.RootID != 0 {
			parts = append(parts, "f.root_id = ?")
			args = append(args, loc.RootID)
		}
		switch {
		case exact:
			parts = append(parts, "f.path = ?")
			args = append(args, path)
		case path != "":
			parts = append(parts, "f.path >= ? AND f.path < ?")
			args = append(args, path, path+pathUpperBound)
		}

		if len(parts) == 1 {
			conds = append(conds, parts[0])
		} else {
			conds = append(conds, "("+strings.Join(parts, " AND ")+")")
		}
	}
	if len(conds) == 0 {
		return
	}
	b.add("("+strings.Join(conds, " OR ")+")", args...)
}

func (b *builder) equal(c Column, f Field[string]) {
	if !f.IsSet() || b.skip(c) {
		return
	}
	if f.IsEmpty() {
		b.add(fmt.Sprintf("(%[1]s IS NULL OR %[1]s = '')", c.Expr()))
		return
	}
	v, _ := f.Value()
	b.add(c.Expr()+" = ?", v)
}

func (b *builder) contains(c Column, f Field[string]) {
	if !f.IsSet() || b.skip(c) {
		return
	}
	if f.IsEmpty() {
		b.add(fmt.Sprintf("(%[1]s IS NULL OR %[1]s = '')", c.Expr()))
		return
	}
	v, _ := f.Value()
	b.add(c.Expr()+` LIKE ? ESCAPE '\'`, "%"+escapeLike(v)+"%")
}

func (b *builder) number(c Column, f Field[string], parse func(string) (any, error)) {
	if !f.IsSet() || b.skip(c) {
		return
	}
	if f.IsEmpty() {
		b.add(c.Expr() + " IS NULL")
		return
	}
	raw, _ := f.Value()
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		b.drop(c, raw, err)
		return
	}
	b.add(c.Expr()+" = ?", v)
}

func parseFloat(s string) (any, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("not a number")
	}
	return v, nil
}

func parseInt(s string) (any, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("not an integer")
	}
	return v, nil
}

func (b *builder) cone(raText, decText string, radius float64) {
	hours, err := normalize.ParseSexagesimal(raText)
	if err != nil {
		b.drop(ColumnPosition, raText, err)
		return
	}
	dec, err := normalize.ParseSexagesimal(decText)
	if err != nil {
		b.drop(ColumnPosition, decText, err)
		return
	}
	if radius <= 0 {
		radius = DefaultRadius
	}
	pixels, err := healpix.QueryDisc(healpix.Nside, hours*15, dec, radius)
	if err != nil {
		b.drop(ColumnPosition, raText+" "+decText, err)
		return
	}
	if int64(len(pixels)) == healpix.Npix(healpix.Nside) {
		b.add("i.coord_pix256 IS NOT NULL")
		return
	}
	ids := make([]string, len(pixels))
	for i, p := range pixels {
		ids[i] = strconv.FormatInt(p, 10)
	}
	// Inlined: large cones exceed the host parameter limit.
	b.add("i.coord_pix256 IN (" + strings.Join(ids, ",") + ")")
}

// header adds a constraint on the cached raw header. KEY=n, KEY<n and
// KEY>n compare a numeric card value; anything else, including a
// comparison whose value is not a number, is a substring match.
func (b *builder) header(text string) {
	for _, op := range []string{"=", "<", ">"} {
		key, value, ok := strings.Cut(text, op)
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || strings.TrimSpace(key) == "" {
			break
		}
		b.add("header_value(h.format, h.header, ?) "+op+" ?", strings.ToUpper(strings.TrimSpace(key)), n)
		return
	}
	b.add(`header_text(h.format, h.header) LIKE ? ESCAPE '\'`, "%"+escapeLike(text)+"%")
}

func orderBy(sort Column, ascending bool) string {
	expr := sort.Expr()
	if expr == "" {
		expr = "f.mtime_millis"
	}
	dir := "DESC"
	if ascending {
		dir = "ASC"
	}
	return fmt.Sprintf("%s %s, f.path, f.name", expr, dir)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
