package search

import (
	"fmt"
	"strings"
	"time"
)

// Column names a searchable catalog field. It is used for sorting, for
// facet value listings, and to exclude one constraint while building a
// facet query.
type Column string

const (
	ColumnNone      Column = ""
	ColumnPath      Column = "path"
	ColumnFileName  Column = "name"
	ColumnImageType Column = "type"
	ColumnFilter    Column = "filter"
	ColumnCamera    Column = "camera"
	ColumnTelescope Column = "telescope"
	ColumnObject    Column = "object"
	ColumnExposure  Column = "exposure"
	ColumnGain      Column = "gain"
	ColumnOffset    Column = "offset"
	ColumnBinning   Column = "binning"
	ColumnSetTemp   Column = "temp"
	ColumnDate      Column = "date"
	ColumnPosition  Column = "position"
	ColumnSize      Column = "size"
	ColumnModified  Column = "modified"
)

var columnExprs = map[Column]string{
	ColumnPath:      "f.path",
	ColumnFileName:  "f.name",
	ColumnImageType: "i.image_type",
	ColumnFilter:    "i.filter_name",
	ColumnCamera:    "i.camera",
	ColumnTelescope: "i.telescope",
	ColumnObject:    "i.object_name",
	ColumnExposure:  "i.exposure",
	ColumnGain:      "i.gain",
	ColumnOffset:    "i.sensor_offset",
	ColumnBinning:   "i.binning",
	ColumnSetTemp:   "i.set_temp",
	ColumnDate:      "i.date_obs",
	ColumnPosition:  "i.coord_pix256",
	ColumnSize:      "f.size",
	ColumnModified:  "f.mtime_millis",
}

// facetColumns can be listed with their distinct values.
var facetColumns = map[Column]bool{
	ColumnImageType: true,
	ColumnFilter:    true,
	ColumnCamera:    true,
	ColumnTelescope: true,
	ColumnObject:    true,
	ColumnExposure:  true,
	ColumnGain:      true,
	ColumnOffset:    true,
	ColumnBinning:   true,
	ColumnSetTemp:   true,
}

// Expr returns the SQL expression for c against the f (files) and
// i (images) table aliases.
func (c Column) Expr() string {
	return columnExprs[c]
}

// IsFacet reports whether distinct values can be listed for c.
func (c Column) IsFacet() bool {
	return facetColumns[c]
}

// ParseColumn resolves a column name as typed on the command line.
func ParseColumn(s string) (Column, error) {
	c := Column(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := columnExprs[c]; !ok {
		return ColumnNone, fmt.Errorf("unknown column %q", s)
	}
	return c, nil
}

// Location selects a directory within a storage root. A zero RootID
// selects every root; an empty Path selects the whole root.
type Location struct {
	RootID int64
	Path   string
}

// AllRoots is the location covering the whole catalog.
var AllRoots = Location{}

// DefaultRadius is the cone radius in degrees used when none is given.
const DefaultRadius = 0.5

// Filter is a structured catalog query. Every field is optional.
type Filter struct {
	// Locations are ORed together. With ExactPaths unset a location
	// matches its directory and everything below it; with it set only
	// files directly in the directory match.
	Locations  []Location
	ExactPaths bool

	// Matched by equality.
	ImageType Field[string]
	Filter    Field[string]
	Camera    Field[string]

	// Matched by substring.
	Telescope Field[string]
	Object    Field[string]
	FileName  Field[string]

	// Numeric fields hold their text form. A value that does not parse
	// drops the constraint and is reported in Query.Dropped.
	Exposure Field[string]
	Gain     Field[string]
	Offset   Field[string]
	Binning  Field[string]
	SetTemp  Field[string]

	From *time.Time
	To   *time.Time

	// Cone search. RA is in hours and Dec in degrees, either decimal or
	// sexagesimal. The cone applies only when both are given.
	RA     string
	Dec    string
	Radius float64

	// HeaderText is KEY=n, KEY<n, KEY>n, or a substring of the raw
	// header.
	HeaderText string

	Sort      Column
	Ascending bool
	Limit     int
}

// ValidationError reports a filter value that could not be used. The
// constraint is dropped and the rest of the query still runs.
type ValidationError struct {
	Column Column
	Value  string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ignoring %s filter %q: %v", e.Column, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
