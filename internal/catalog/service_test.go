package catalog_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"skycat/internal/catalog"
	"skycat/internal/database"
	"skycat/internal/header"
	"skycat/internal/platesolve"
	"skycat/internal/search"
	"skycat/internal/testutil"
)

type serviceFixture struct {
	db    *database.SQLiteDatabase
	fsmgr *testutil.MockFilesystemManager
	clock *testutil.StubClock
	svc   *catalog.Service
}

func newServiceFixture(t *testing.T, opts catalog.Options) *serviceFixture {
	t.Helper()
	db := testutil.NewTestDatabase(t)
	clock := testutil.FixedClock()
	fsmgr := testutil.NewMockFilesystemManager(clock, "bad*")
	fsmgr.AddRoot(rootPath)
	if opts.CatalogID == "" {
		opts.CatalogID = "test"
	}
	svc := catalog.NewService(db, fsmgr, catalog.NewNopLogger(), clock, testutil.NewStubIDGenerator(), opts)
	if _, err := svc.AddRoot(t.Context(), "main", rootPath); err != nil {
		t.Fatalf("AddRoot() error = %v", err)
	}
	return &serviceFixture{db: db, fsmgr: fsmgr, clock: clock, svc: svc}
}

// addLibrary writes a light in Ha, a dark without filter, and a
// compressed light in OIII.
func (f *serviceFixture) addLibrary(t *testing.T) {
	t.Helper()
	f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS(
		append(testutil.Light("M42", "Ha", 300, "05 35 17", "-05 23 28"),
			header.Card{Keyword: "GAIN", Value: int64(120)})...))
	f.fsmgr.AddFile(rootPath, "b.fits", testutil.FITS(
		header.Card{Keyword: "IMAGETYP", Value: "Dark Frame"},
		header.Card{Keyword: "EXPTIME", Value: 300.0},
		header.Card{Keyword: "GAIN", Value: int64(120)},
	))
	f.fsmgr.AddFile(rootPath, "sub/c.fits.gz", testutil.Gzip(t, testutil.FITS(
		testutil.Light("NGC 7000", "OIII", 600, "20 59 17", "+44 31 44")...)))
}

func (f *serviceFixture) scan(t *testing.T) *catalog.ScanReport {
	t.Helper()
	report, err := f.svc.Scan(t.Context(), "")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	return report
}

func (f *serviceFixture) search(t *testing.T, filter search.Filter) []string {
	t.Helper()
	results, dropped, err := f.svc.Search(t.Context(), filter)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(dropped) != 0 {
		t.Fatalf("Search() dropped = %v", dropped)
	}
	var names []string
	for _, r := range results {
		names = append(names, r.File.RelativePath())
	}
	sort.Strings(names)
	return names
}

func (f *serviceFixture) fileID(t *testing.T, rel string) string {
	t.Helper()
	results, _, err := f.svc.Search(t.Context(), search.Filter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, r := range results {
		if r.File.RelativePath() == rel {
			return r.File.ID
		}
	}
	t.Fatalf("%s is not cataloged", rel)
	return ""
}

func TestService_AddRoot(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})

	t.Run("same name and path is a no-op", func(t *testing.T) {
		if _, err := f.svc.AddRoot(t.Context(), "main", rootPath+"/"); err != nil {
			t.Errorf("AddRoot() error = %v", err)
		}
	})

	t.Run("same name different path fails", func(t *testing.T) {
		f.fsmgr.AddRoot("/mnt/nas")
		if _, err := f.svc.AddRoot(t.Context(), "main", "/mnt/nas"); err == nil {
			t.Error("AddRoot() expected error for conflicting path")
		}
	})

	t.Run("missing directory fails", func(t *testing.T) {
		if _, err := f.svc.AddRoot(t.Context(), "gone", "/does/not/exist"); err == nil {
			t.Error("AddRoot() expected error for missing directory")
		}
	})

	t.Run("empty name fails", func(t *testing.T) {
		if _, err := f.svc.AddRoot(t.Context(), "", rootPath); err == nil {
			t.Error("AddRoot() expected error for empty name")
		}
	})

	roots, err := f.svc.ListRoots(t.Context())
	if err != nil {
		t.Fatalf("ListRoots() error = %v", err)
	}
	if len(roots) != 1 || roots[0].Name != "main" {
		t.Errorf("ListRoots() = %v, want [main]", roots)
	}
}

func TestService_ScanAndSearch(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{Workers: 2})
	f.addLibrary(t)
	f.fsmgr.AddFile(rootPath, "readme.txt", []byte("not an image"))

	report := f.scan(t)
	totals := report.Totals()
	if totals.New != 3 || totals.Ingest.Headers != 3 || totals.Ingest.Normalized != 3 {
		t.Errorf("Totals() = %+v, want 3 new, 3 headers, 3 normalized", totals)
	}

	tests := []struct {
		name   string
		filter search.Filter
		want   []string
	}{
		{
			name:   "everything",
			filter: search.Filter{},
			want:   []string{"a.fits", "b.fits", "sub/c.fits.gz"},
		},
		{
			name:   "image type",
			filter: search.Filter{ImageType: search.Is("LIGHT")},
			want:   []string{"a.fits", "sub/c.fits.gz"},
		},
		{
			name:   "filter value",
			filter: search.Filter{Filter: search.Is("Ha")},
			want:   []string{"a.fits"},
		},
		{
			name:   "filter explicitly empty",
			filter: search.Filter{Filter: search.Empty[string]()},
			want:   []string{"b.fits"},
		},
		{
			name:   "object substring",
			filter: search.Filter{Object: search.Is("7000")},
			want:   []string{"sub/c.fits.gz"},
		},
		{
			name:   "exposure",
			filter: search.Filter{Exposure: search.Is("300")},
			want:   []string{"a.fits", "b.fits"},
		},
		{
			name:   "exact directory",
			filter: search.Filter{Locations: []search.Location{{RootID: 1, Path: "sub"}}, ExactPaths: true},
			want:   []string{"sub/c.fits.gz"},
		},
		{
			name:   "cone around M42",
			filter: search.Filter{RA: "5.58", Dec: "-5.4", Radius: 1},
			want:   []string{"a.fits"},
		},
		{
			name:   "header comparison",
			filter: search.Filter{HeaderText: "GAIN=120"},
			want:   []string{"a.fits", "b.fits"},
		},
		{
			name:   "header substring",
			filter: search.Filter{HeaderText: "NGC 7000"},
			want:   []string{"sub/c.fits.gz"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.search(t, tt.filter); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Search() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_SearchByPath(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	light := testutil.FITS(testutil.Light("M31", "L", 60, "00 42 44", "+41 16 09")...)
	for _, rel := range []string{"Ström/x.fits", "Ström/deep/y.fits", "Strömgren/s.fits", "Strom/z.fits", "plain/w.fits"} {
		f.fsmgr.AddFile(rootPath, rel, light)
	}
	f.fsmgr.AddRoot("/mnt/nas")
	if _, err := f.svc.AddRoot(t.Context(), "nas", "/mnt/nas"); err != nil {
		t.Fatalf("AddRoot(nas) error = %v", err)
	}
	f.fsmgr.AddFile("/mnt/nas", "plain/v.fits", light)
	f.fsmgr.AddFile("/mnt/nas", "other/u.fits", light)
	f.scan(t)

	tests := []struct {
		name      string
		locations []search.Location
		exact     bool
		want      []string
	}{
		{
			name:      "non-ASCII prefix",
			locations: []search.Location{{RootID: 1, Path: "Ström"}},
			want:      []string{"Ström/deep/y.fits", "Ström/x.fits"},
		},
		{
			name:      "non-ASCII exact",
			locations: []search.Location{{RootID: 1, Path: "Ström/"}},
			exact:     true,
			want:      []string{"Ström/x.fits"},
		},
		{
			name:      "path in every root",
			locations: []search.Location{{Path: "plain"}},
			want:      []string{"plain/v.fits", "plain/w.fits"},
		},
		{
			name:      "root without path",
			locations: []search.Location{{RootID: 2}},
			want:      []string{"other/u.fits", "plain/v.fits"},
		},
		{
			name:      "two locations",
			locations: []search.Location{{RootID: 1, Path: "Strom"}, {RootID: 2, Path: "other"}},
			want:      []string{"Strom/z.fits", "other/u.fits"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.search(t, search.Filter{Locations: tt.locations, ExactPaths: tt.exact})
			want := append([]string(nil), tt.want...)
			sort.Strings(want)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Search() = %v, want %v", got, want)
			}
		})
	}
}

func TestService_FindCalibration(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	f.addLibrary(t)
	frame := func(typ, filter string, exposure float64, date string) []byte {
		cards := []header.Card{
			{Keyword: "IMAGETYP", Value: typ},
			{Keyword: "EXPTIME", Value: exposure},
			{Keyword: "GAIN", Value: int64(120)},
			{Keyword: "DATE-OBS", Value: date},
		}
		if filter != "" {
			cards = append(cards, header.Card{Keyword: "FILTER", Value: filter})
		}
		return testutil.FITS(cards...)
	}
	f.fsmgr.AddFile(rootPath, "darks/long.fits", frame("Dark Frame", "", 600, "2024-01-15T12:00:00"))
	f.fsmgr.AddFile(rootPath, "flats/ha.fits", frame("Flat Frame", "Ha", 2, "2024-01-16T08:00:00"))
	f.fsmgr.AddFile(rootPath, "flats/ha-old.fits", frame("Flat Frame", "Ha", 2, "2024-01-18T08:00:00"))
	f.fsmgr.AddFile(rootPath, "flats/oiii.fits", frame("Flat Frame", "OIII", 2, "2024-01-16T08:00:00"))
	f.fsmgr.AddFile(rootPath, "flats/darkflat.fits", frame("DarkFlat", "", 2, "2024-01-16T08:10:00"))
	f.scan(t)

	tests := []struct {
		name string
		ref  string
		kind catalog.CalibrationKind
		want []string
	}{
		{name: "darks for a light", ref: "a.fits", kind: catalog.CalibrationDark, want: []string{"b.fits"}},
		{name: "flats for a light", ref: "a.fits", kind: catalog.CalibrationFlat, want: []string{"flats/ha.fits"}},
		{name: "darkflats for a flat", ref: "flats/ha.fits", kind: catalog.CalibrationDark, want: []string{"flats/darkflat.fits"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, _, err := f.svc.FindCalibration(t.Context(), f.fileID(t, tt.ref), tt.kind)
			if err != nil {
				t.Fatalf("FindCalibration() error = %v", err)
			}
			var got []string
			for _, r := range results {
				got = append(got, r.File.RelativePath())
			}
			sort.Strings(got)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindCalibration() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("file without metadata", func(t *testing.T) {
		if _, _, err := f.svc.FindCalibration(t.Context(), "no-such-file", catalog.CalibrationDark); !errors.Is(err, catalog.ErrNoImage) {
			t.Errorf("FindCalibration() error = %v, want ErrNoImage", err)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		if _, _, err := f.svc.FindCalibration(t.Context(), f.fileID(t, "a.fits"), "bias"); err == nil {
			t.Error("FindCalibration() expected error for unknown kind")
		}
	})
}

func TestService_SearchDropsInvalidConstraint(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	f.addLibrary(t)
	f.scan(t)

	results, dropped, err := f.svc.Search(t.Context(), search.Filter{
		ImageType: search.Is("LIGHT"),
		Gain:      search.Is("high"),
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(dropped) != 1 || dropped[0].Column != search.ColumnGain {
		t.Errorf("dropped = %v, want one gain constraint", dropped)
	}
	if len(results) != 2 {
		t.Errorf("Search() returned %d results, want 2", len(results))
	}
}

func TestService_Values(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	f.addLibrary(t)
	f.scan(t)

	filter := search.Filter{Filter: search.Is("Ha")}

	tests := []struct {
		name   string
		column search.Column
		want   []string
	}{
		// The filter column ignores its own selection.
		{name: "own column", column: search.ColumnFilter, want: []string{"", "Ha", "OIII"}},
		{name: "other column", column: search.ColumnImageType, want: []string{"LIGHT"}},
		{name: "numeric column", column: search.ColumnExposure, want: []string{"300"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.Values(t.Context(), filter, tt.column)
			if err != nil {
				t.Fatalf("Values() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Values() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := f.svc.Values(t.Context(), filter, search.ColumnPath); err == nil {
		t.Error("Values(path) expected error")
	}
}

func TestService_ChangedFileIsReingested(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	f.addLibrary(t)
	f.scan(t)
	oldID := f.fileID(t, "a.fits")

	f.clock.Advance(time.Hour)
	f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS(testutil.Light("M42", "OIII", 300, "05 35 17", "-05 23 28")...))
	report := f.scan(t)
	if got := report.Totals(); got.Changed != 1 || got.Ingest.Headers != 1 {
		t.Errorf("Totals() = %+v, want 1 changed, 1 header", got)
	}

	newID := f.fileID(t, "a.fits")
	if newID == oldID {
		t.Fatalf("changed file kept id %s", oldID)
	}
	if raw, err := f.db.FindHeader(t.Context(), oldID); err != nil || raw != nil {
		t.Errorf("FindHeader(old id) = %v, %v; want nil, nil", raw, err)
	}
	if got := f.search(t, search.Filter{Filter: search.Is("OIII")}); !reflect.DeepEqual(got, []string{"a.fits", "sub/c.fits.gz"}) {
		t.Errorf("Search(OIII) = %v", got)
	}
}

func TestService_BadFiles(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	f.fsmgr.AddFile(rootPath, "good.fits", testutil.FITS(testutil.Light("M42", "Ha", 300, "05 35 17", "-05 23 28")...))
	f.fsmgr.AddFile(rootPath, "notfits.fits", bytes.Repeat([]byte("x"), 2880))
	f.fsmgr.AddFile(rootPath, "short.fits", testutil.FITS()[:100])

	report := f.scan(t)
	got := report.Totals().Ingest
	want := catalog.IngestStats{Headers: 1, Normalized: 1, Skipped: 1, Failed: 1}
	if got != want {
		t.Errorf("Ingest = %+v, want %+v", got, want)
	}

	// Files without a header are retried on the next scan.
	report = f.scan(t)
	if got := report.Totals().Ingest; got.Skipped+got.Failed != 2 || got.Headers != 0 {
		t.Errorf("second Ingest = %+v, want the two bad files retried", got)
	}
}

func TestService_ScanRootFailures(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	f.addLibrary(t)
	f.scan(t)

	f.fsmgr.AddRoot("/mnt/nas")
	f.fsmgr.AddFile("/mnt/nas", "d.fits", testutil.FITS())
	if _, err := f.svc.AddRoot(t.Context(), "nas", "/mnt/nas"); err != nil {
		t.Fatalf("AddRoot() error = %v", err)
	}

	f.fsmgr.RemoveAll(rootPath)
	f.fsmgr.FailDir("/mnt/nas", "", errors.New("host is down"))
	report := f.scan(t)

	byName := make(map[string]*catalog.RootReport)
	for _, rr := range report.Roots {
		byName[rr.Root.Name] = rr
	}
	if !byName["main"].Skipped {
		t.Error("empty root was not skipped")
	}
	if failed := report.Failed(); len(failed) != 1 || failed[0].Root.Name != "nas" {
		t.Errorf("Failed() = %v, want [nas]", failed)
	}
	if got := f.search(t, search.Filter{}); len(got) != 3 {
		t.Errorf("Search() after skipped scan = %v, want 3 records kept", got)
	}
}

func TestService_ScanUnknownRoot(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	if _, err := f.svc.Scan(t.Context(), "nope"); !errors.Is(err, catalog.ErrRootNotFound) {
		t.Errorf("Scan() error = %v, want ErrRootNotFound", err)
	}
}

func TestService_RemoveRoot(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	f.addLibrary(t)
	f.scan(t)

	if err := f.svc.RemoveRoot(t.Context(), "main"); err != nil {
		t.Fatalf("RemoveRoot() error = %v", err)
	}
	if got := f.search(t, search.Filter{}); len(got) != 0 {
		t.Errorf("Search() after RemoveRoot = %v, want none", got)
	}
	if err := f.svc.RemoveRoot(t.Context(), "main"); !errors.Is(err, catalog.ErrRootNotFound) {
		t.Errorf("second RemoveRoot() error = %v, want ErrRootNotFound", err)
	}
}

func TestService_Rebuild(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	f.addLibrary(t)
	f.scan(t)

	id := f.fileID(t, "b.fits")
	if err := f.db.SaveImage(t.Context(), id, nil); err != nil {
		t.Fatalf("SaveImage() error = %v", err)
	}
	if got := f.search(t, search.Filter{ImageType: search.Is("DARK")}); len(got) != 0 {
		t.Fatalf("Search(DARK) = %v before rebuild, want none", got)
	}

	stats, err := f.svc.Rebuild(t.Context())
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if stats.Headers != 3 || stats.Normalized != 3 {
		t.Errorf("Rebuild() = %+v, want 3 headers normalized", stats)
	}
	if got := f.search(t, search.Filter{ImageType: search.Is("DARK")}); !reflect.DeepEqual(got, []string{"b.fits"}) {
		t.Errorf("Search(DARK) after rebuild = %v", got)
	}
}

func TestService_Keywords(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	f.addLibrary(t)
	f.scan(t)

	// A fresh service sees the cached keywords too.
	svc := catalog.NewService(f.db, f.fsmgr, catalog.NewNopLogger(), f.clock, testutil.NewStubIDGenerator(), catalog.Options{})
	got, err := svc.Keywords(t.Context())
	if err != nil {
		t.Fatalf("Keywords() error = %v", err)
	}
	have := make(map[string]bool)
	for _, k := range got {
		have[k] = true
	}
	for _, k := range []string{"SIMPLE", "IMAGETYP", "EXPTIME", "GAIN", "OBJCTRA"} {
		if !have[k] {
			t.Errorf("Keywords() is missing %s", k)
		}
	}
	if !sort.StringsAreSorted(got) {
		t.Errorf("Keywords() = %v, want sorted", got)
	}
}

// fakeSolver returns a fixed solution and records its requests.
type fakeSolver struct {
	ra, dec  float64
	err      error
	requests []platesolve.Request
}

func (s *fakeSolver) Solve(_ context.Context, req platesolve.Request) (*header.Header, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return header.New(wcsCards(s.ra, s.dec)...), nil
}

func wcsCards(ra, dec float64) []header.Card {
	return []header.Card{
		{Keyword: "CTYPE1", Value: "RA---TAN"},
		{Keyword: "CTYPE2", Value: "DEC--TAN"},
		{Keyword: "CRPIX1", Value: 2072.0},
		{Keyword: "CRPIX2", Value: 1411.0},
		{Keyword: "CRVAL1", Value: ra},
		{Keyword: "CRVAL2", Value: dec},
		{Keyword: "CD1_1", Value: -0.00026},
		{Keyword: "CD1_2", Value: 0.00001},
		{Keyword: "CD2_1", Value: -0.00001},
		{Keyword: "CD2_2", Value: -0.00026},
		{Keyword: "PLTSOLVD", Value: true},
	}
}

func TestService_SolveAll(t *testing.T) {
	solver := &fakeSolver{ra: 10.68, dec: 41.27}
	f := newServiceFixture(t, catalog.Options{Solver: solver})
	f.addLibrary(t)
	f.fsmgr.AddFile(rootPath, "solved.fits", testutil.FITS(wcsCards(83.8, -5.4)...))
	f.scan(t)

	results, err := f.svc.SolveAll(t.Context())
	if err != nil {
		t.Fatalf("SolveAll() error = %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("SolveAll() returned %d results, want 4", len(results))
	}
	if len(solver.requests) != 3 {
		t.Errorf("solver ran %d times, want 3", len(solver.requests))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("%s: Err = %v", res.File.RelativePath(), res.Err)
		}
		if got := res.FromHeader; got != (res.File.Name == "solved.fits") {
			t.Errorf("%s: FromHeader = %v", res.File.RelativePath(), got)
		}
	}

	for _, req := range solver.requests {
		if filepath.Base(req.Path) == "a.fits" && req.Known == nil {
			t.Error("request for a.fits carries no known position")
		}
	}

	// Solved centers replace the header positions.
	got := f.search(t, search.Filter{RA: "0.712", Dec: "41.27", Radius: 0.5})
	if want := []string{"a.fits", "b.fits", "sub/c.fits.gz"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Search() near solved center = %v, want %v", got, want)
	}

	wcs, err := f.db.FindSolution(t.Context(), f.fileID(t, "solved.fits"))
	if err != nil || wcs == nil {
		t.Fatalf("FindSolution() = %v, %v", wcs, err)
	}
	if wcs.Has("PLTSOLVD") {
		t.Error("stored solution kept a card outside the WCS allow-list")
	}

	// Nothing is left to solve, and a rebuild keeps the solved centers.
	if again, err := f.svc.SolveAll(t.Context()); err != nil || len(again) != 0 {
		t.Errorf("second SolveAll() = %d results, %v; want none", len(again), err)
	}
	if _, err := f.svc.Rebuild(t.Context()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	meta, err := f.db.FindImage(t.Context(), f.fileID(t, "a.fits"))
	if err != nil || meta == nil || meta.Position == nil {
		t.Fatalf("FindImage() = %+v, %v", meta, err)
	}
	if meta.Position.RA != 10.68 {
		t.Errorf("RA after rebuild = %v, want 10.68", meta.Position.RA)
	}
}

func TestService_SolveFailures(t *testing.T) {
	t.Run("no solver configured", func(t *testing.T) {
		f := newServiceFixture(t, catalog.Options{})
		f.addLibrary(t)
		f.scan(t)

		results, err := f.svc.Solve(t.Context(), []string{f.fileID(t, "a.fits")})
		if err != nil {
			t.Fatalf("Solve() error = %v", err)
		}
		if len(results) != 1 || !errors.Is(results[0].Err, catalog.ErrSolverNotConfigured) {
			t.Errorf("Solve() = %+v, want ErrSolverNotConfigured", results)
		}
	})

	t.Run("solver does not converge", func(t *testing.T) {
		solver := &fakeSolver{err: &platesolve.SolverFailure{Message: "no solution found"}}
		f := newServiceFixture(t, catalog.Options{Solver: solver})
		f.addLibrary(t)
		f.scan(t)

		results, err := f.svc.Solve(t.Context(), []string{f.fileID(t, "a.fits")})
		if err != nil {
			t.Fatalf("Solve() error = %v", err)
		}
		var failure *platesolve.SolverFailure
		if len(results) != 1 || !errors.As(results[0].Err, &failure) {
			t.Errorf("Solve() = %+v, want SolverFailure", results)
		}
		if wcs, _ := f.db.FindSolution(t.Context(), f.fileID(t, "a.fits")); wcs != nil {
			t.Error("failed solve stored a solution")
		}
	})

	t.Run("unknown file", func(t *testing.T) {
		f := newServiceFixture(t, catalog.Options{})
		if _, err := f.svc.Solve(t.Context(), []string{"missing"}); err == nil {
			t.Error("Solve() expected error for unknown file id")
		}
	})
}

func TestService_SnapshotRestore(t *testing.T) {
	tests := []struct {
		name      string
		encryptor catalog.Encryptor
		wantName  string
	}{
		{name: "plain", wantName: catalog.SnapshotName},
		{name: "encrypted", encryptor: testutil.NewTestEncryptor(), wantName: catalog.EncryptedSnapshotName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testutil.NewTestVault()
			f := newServiceFixture(t, catalog.Options{Vault: v, Encryptor: tt.encryptor})
			f.addLibrary(t)
			f.scan(t)

			if err := f.svc.Snapshot(7); err != nil {
				t.Fatalf("Snapshot() error = %v", err)
			}
			name, version, err := catalog.LatestSnapshot(v, "test")
			if err != nil {
				t.Fatalf("LatestSnapshot() error = %v", err)
			}
			if name != tt.wantName || version != 7 {
				t.Errorf("LatestSnapshot() = %q, %d; want %q, 7", name, version, tt.wantName)
			}
			encrypted, err := catalog.SnapshotEncrypted(v, "test")
			if err != nil || encrypted != (tt.encryptor != nil) {
				t.Errorf("SnapshotEncrypted() = %v, %v", encrypted, err)
			}

			var dctx catalog.DecryptionContext
			if tt.encryptor != nil {
				if dctx, err = tt.encryptor.Unlock("passphrase"); err != nil {
					t.Fatalf("Unlock() error = %v", err)
				}
			}
			dest := filepath.Join(t.TempDir(), "restored.db")
			out, err := os.Create(dest)
			if err != nil {
				t.Fatal(err)
			}
			restored, err := catalog.RestoreSnapshot(v, "test", out, dctx)
			out.Close()
			if err != nil {
				t.Fatalf("RestoreSnapshot() error = %v", err)
			}
			if restored != 7 {
				t.Errorf("RestoreSnapshot() version = %d, want 7", restored)
			}

			db, err := database.NewSQLiteDatabase(dest)
			if err != nil {
				t.Fatalf("opening restored catalog: %v", err)
			}
			defer db.Close()
			if err := db.CheckMigrations(); err != nil {
				t.Errorf("CheckMigrations() on restored catalog: %v", err)
			}
			files, err := db.FindFilesByRoot(t.Context(), 1)
			if err != nil {
				t.Fatalf("FindFilesByRoot() error = %v", err)
			}
			if len(files) != 3 {
				t.Errorf("restored catalog has %d files, want 3", len(files))
			}
		})
	}
}

func TestService_SnapshotErrors(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	if err := f.svc.Snapshot(1); err == nil {
		t.Error("Snapshot() without vault expected error")
	}

	v := testutil.NewTestVault()
	if _, err := catalog.RestoreSnapshot(v, "test", io.Discard, nil); !errors.Is(err, catalog.ErrNoSnapshot) {
		t.Errorf("RestoreSnapshot() error = %v, want ErrNoSnapshot", err)
	}

	g := newServiceFixture(t, catalog.Options{Vault: v, Encryptor: testutil.NewTestEncryptor()})
	if err := g.svc.Snapshot(2); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if _, err := catalog.RestoreSnapshot(v, "test", io.Discard, nil); err == nil {
		t.Error("RestoreSnapshot() of encrypted snapshot without key expected error")
	}
}

func TestService_History(t *testing.T) {
	f := newServiceFixture(t, catalog.Options{})
	start := f.clock.Now()
	for _, op := range []string{"scan", "solve"} {
		created, err := f.svc.StartOperation(t.Context(), op, "")
		if err != nil {
			t.Fatalf("StartOperation() error = %v", err)
		}
		f.clock.Advance(5 * time.Minute)
		if err := f.svc.FinishOperation(t.Context(), created.ID, "success"); err != nil {
			t.Fatalf("FinishOperation() error = %v", err)
		}
	}

	ops, err := f.svc.GetHistory(t.Context(), 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(ops) != 2 || ops[0].Operation != "solve" {
		t.Errorf("GetHistory() = %v, want solve first", ops)
	}
	if ops[0].FinishedAt == nil || ops[0].Status != "success" {
		t.Fatalf("GetHistory()[0] = %+v, want finished with success", ops[0])
	}

	// Both stamps come from the service clock.
	for i, want := range []struct{ started, finished time.Time }{
		{start.Add(5 * time.Minute), start.Add(10 * time.Minute)},
		{start, start.Add(5 * time.Minute)},
	} {
		if !ops[i].StartedAt.Equal(want.started) {
			t.Errorf("GetHistory()[%d].StartedAt = %v, want %v", i, ops[i].StartedAt, want.started)
		}
		if ops[i].FinishedAt == nil || !ops[i].FinishedAt.Equal(want.finished) {
			t.Errorf("GetHistory()[%d].FinishedAt = %v, want %v", i, ops[i].FinishedAt, want.finished)
		}
	}
}
