package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"skycat/internal/catalog"
	"skycat/internal/database"
	"skycat/internal/model"
	"skycat/internal/testutil"
)

const rootPath = "/data/astro"

type scanFixture struct {
	db      *database.SQLiteDatabase
	fsmgr   *testutil.MockFilesystemManager
	clock   *testutil.StubClock
	root    *model.StorageRoot
	scanner *catalog.Scanner
}

func newScanFixture(t *testing.T) *scanFixture {
	t.Helper()
	db := testutil.NewTestDatabase(t)
	clock := testutil.FixedClock()
	fsmgr := testutil.NewMockFilesystemManager(clock, "bad*")
	fsmgr.AddRoot(rootPath)

	root, err := db.CreateRoot(t.Context(), "main", rootPath)
	if err != nil {
		t.Fatalf("CreateRoot() error = %v", err)
	}
	return &scanFixture{
		db:      db,
		fsmgr:   fsmgr,
		clock:   clock,
		root:    root,
		scanner: catalog.NewScanner(fsmgr, db, testutil.NewStubIDGenerator(), catalog.NewNopLogger()),
	}
}

// scan computes a change set and commits it.
func (f *scanFixture) scan(t *testing.T) *catalog.ChangeSet {
	t.Helper()
	cs, err := f.scanner.Scan(t.Context(), f.root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if err := f.db.ApplyChangeSet(t.Context(), cs); err != nil {
		t.Fatalf("ApplyChangeSet() error = %v", err)
	}
	return cs
}

func (f *scanFixture) records(t *testing.T) map[string]*model.FileRecord {
	t.Helper()
	files, err := f.db.FindFilesByRoot(t.Context(), f.root.ID)
	if err != nil {
		t.Fatalf("FindFilesByRoot() error = %v", err)
	}
	out := make(map[string]*model.FileRecord, len(files))
	for _, r := range files {
		out[r.RelativePath()] = r
	}
	return out
}

func relPaths(records []*model.FileRecord) map[string]bool {
	out := make(map[string]bool, len(records))
	for _, r := range records {
		out[r.RelativePath()] = true
	}
	return out
}

func TestScanner_NewFiles(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS())
	f.fsmgr.AddFile(rootPath, "b.fits", testutil.FITS())
	f.fsmgr.AddFile(rootPath, "sub/c.fits.gz", testutil.Gzip(t, testutil.FITS()))
	f.fsmgr.AddFile(rootPath, "notes.txt", []byte("clouds"))
	f.fsmgr.AddFile(rootPath, "sub/deep/m31.xisf", []byte("XISF0100"))

	cs := f.scan(t)

	got := relPaths(cs.New)
	want := []string{"a.fits", "b.fits", "sub/c.fits.gz", "sub/deep/m31.xisf"}
	if len(got) != len(want) {
		t.Fatalf("New = %v, want %v", got, want)
	}
	for _, p := range want {
		if !got[p] {
			t.Errorf("New is missing %s", p)
		}
	}
	if len(cs.Changed) != 0 || len(cs.Removed) != 0 {
		t.Errorf("Changed = %d, Removed = %d, want 0, 0", len(cs.Changed), len(cs.Removed))
	}

	rec := f.records(t)["sub/c.fits.gz"]
	if rec == nil {
		t.Fatal("sub/c.fits.gz was not persisted")
	}
	if rec.Path != "sub/" || rec.Name != "c.fits.gz" {
		t.Errorf("record path/name = %q/%q, want %q/%q", rec.Path, rec.Name, "sub/", "c.fits.gz")
	}
	if rec.MtimeMillis != f.clock.Now().UnixMilli() {
		t.Errorf("MtimeMillis = %d, want %d", rec.MtimeMillis, f.clock.Now().UnixMilli())
	}
}

func TestScanner_RescanIsEmpty(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS())
	f.fsmgr.AddFile(rootPath, "night1/b.fits", testutil.FITS())
	f.scan(t)

	cs := f.scan(t)
	if !cs.Empty() {
		t.Errorf("second Scan() = %+v, want empty change set", cs)
	}
}

func TestScanner_ChangedFileGetsNewIdentity(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS())
	f.scan(t)
	before := f.records(t)["a.fits"]

	f.fsmgr.TouchFile(rootPath, "a.fits", f.clock.Now().Add(time.Hour))
	cs := f.scan(t)

	if len(cs.ChangedIDs) != 1 || cs.ChangedIDs[0] != before.ID {
		t.Fatalf("ChangedIDs = %v, want [%s]", cs.ChangedIDs, before.ID)
	}
	after := f.records(t)["a.fits"]
	if after == nil {
		t.Fatal("a.fits missing after change")
	}
	if after.ID == before.ID {
		t.Errorf("changed file kept id %s", after.ID)
	}
	if old, err := f.db.FindFile(t.Context(), before.ID); err != nil || old != nil {
		t.Errorf("FindFile(old id) = %v, %v; want nil, nil", old, err)
	}
}

func TestScanner_SizeChange(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS())
	f.scan(t)

	// Same mtime, different size.
	content := testutil.FITS(testutil.Light("M42", "Ha", 300, "05 35 17", "-05 23 28")...)
	f.fsmgr.AddFile(rootPath, "a.fits", append(content, make([]byte, 2880)...))
	cs := f.scan(t)
	if len(cs.Changed) != 1 {
		t.Errorf("Changed = %d, want 1", len(cs.Changed))
	}
}

func TestScanner_RemovedFile(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS())
	f.fsmgr.AddFile(rootPath, "b.fits", testutil.FITS())
	f.scan(t)

	f.fsmgr.RemoveFile(rootPath, "b.fits")
	cs := f.scan(t)

	if got := relPaths(cs.Removed); len(got) != 1 || !got["b.fits"] {
		t.Errorf("Removed = %v, want [b.fits]", got)
	}
	if _, ok := f.records(t)["b.fits"]; ok {
		t.Error("b.fits still persisted")
	}
}

func TestScanner_CompressionVariant(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.AddFile(rootPath, "night1/a.fits", testutil.FITS())
	f.scan(t)
	before := f.records(t)["night1/a.fits"]

	f.fsmgr.RemoveFile(rootPath, "night1/a.fits")
	f.fsmgr.AddFile(rootPath, "night1/a.fits.gz", testutil.Gzip(t, testutil.FITS()))
	cs := f.scan(t)

	if len(cs.New) != 0 || len(cs.Removed) != 0 {
		t.Errorf("New = %d, Removed = %d, want 0, 0", len(cs.New), len(cs.Removed))
	}
	if len(cs.ChangedIDs) != 1 || cs.ChangedIDs[0] != before.ID {
		t.Fatalf("ChangedIDs = %v, want [%s]", cs.ChangedIDs, before.ID)
	}
	if cs.Changed[0].Name != "a.fits.gz" {
		t.Errorf("Changed[0].Name = %q, want %q", cs.Changed[0].Name, "a.fits.gz")
	}
}

func TestScanner_BothVariantsPresent(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.AddFile(rootPath, "a.fits.gz", testutil.Gzip(t, testutil.FITS()))
	f.scan(t)
	before := f.records(t)["a.fits.gz"]

	// The compressed file keeps its record; the plain one is new.
	f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS())
	cs := f.scan(t)

	if got := relPaths(cs.New); len(got) != 1 || !got["a.fits"] {
		t.Errorf("New = %v, want [a.fits]", got)
	}
	if len(cs.ChangedIDs) != 0 {
		t.Errorf("ChangedIDs = %v, want none", cs.ChangedIDs)
	}
	if after := f.records(t)["a.fits.gz"]; after == nil || after.ID != before.ID {
		t.Errorf("a.fits.gz record = %+v, want id %s", after, before.ID)
	}
}

func TestScanner_Ignored(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS())
	f.fsmgr.AddFile(rootPath, "BAD_frame.fits", testutil.FITS())
	f.fsmgr.AddFile(rootPath, "bad/b.fits", testutil.FITS())

	cs := f.scan(t)
	if got := relPaths(cs.New); len(got) != 1 || !got["a.fits"] {
		t.Errorf("New = %v, want [a.fits]", got)
	}
}

func TestScanner_RemovedDirectory(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS())
	f.fsmgr.AddFile(rootPath, "night1/b.fits", testutil.FITS())
	f.fsmgr.AddFile(rootPath, "night1/flats/c.fits", testutil.FITS())
	f.scan(t)

	f.fsmgr.RemoveFile(rootPath, "night1/b.fits")
	f.fsmgr.RemoveFile(rootPath, "night1/flats/c.fits")
	cs := f.scan(t)

	got := relPaths(cs.Removed)
	if len(got) != 2 || !got["night1/b.fits"] || !got["night1/flats/c.fits"] {
		t.Errorf("Removed = %v, want night1/b.fits and night1/flats/c.fits", got)
	}
}

func TestScanner_EmptyRoot(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS())
	f.scan(t)

	f.fsmgr.RemoveAll(rootPath)
	_, err := f.scanner.Scan(t.Context(), f.root)
	if !errors.Is(err, catalog.ErrRootEmpty) {
		t.Fatalf("Scan() error = %v, want ErrRootEmpty", err)
	}
	if _, ok := f.records(t)["a.fits"]; !ok {
		t.Error("records of an empty root were dropped")
	}
}

func TestScanner_UnreachableRoot(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.FailDir(rootPath, "", errors.New("input/output error"))

	_, err := f.scanner.Scan(t.Context(), f.root)
	if !errors.Is(err, catalog.ErrRootUnreachable) {
		t.Errorf("Scan() error = %v, want ErrRootUnreachable", err)
	}
}

func TestScanner_UnreadableSubdirectoryKeepsRecords(t *testing.T) {
	tests := []struct {
		name string
		fail string
		kept []string
	}{
		{name: "direct children", fail: "night1/", kept: []string{"night1/b.fits", "night1/ha/c.fits"}},
		{name: "nested directory", fail: "night1/ha/", kept: []string{"night1/ha/c.fits", "night1/ha/deep/d.fits"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newScanFixture(t)
			f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS())
			f.fsmgr.AddFile(rootPath, "night1/b.fits", testutil.FITS())
			f.fsmgr.AddFile(rootPath, "night1/ha/c.fits", testutil.FITS())
			f.fsmgr.AddFile(rootPath, "night1/ha/deep/d.fits", testutil.FITS())
			f.fsmgr.AddFile(rootPath, "night10/e.fits", testutil.FITS())
			f.scan(t)

			f.fsmgr.FailDir(rootPath, tt.fail, errors.New("permission denied"))
			cs := f.scan(t)

			if !cs.Empty() {
				t.Errorf("Scan() = %+v, want empty change set", cs)
			}
			records := f.records(t)
			for _, p := range tt.kept {
				if _, ok := records[p]; !ok {
					t.Errorf("record %s under unreadable directory was dropped", p)
				}
			}
		})
	}
}

func TestScanner_UnreadableSubdirectoryDoesNotShieldSiblings(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.AddFile(rootPath, "night1/b.fits", testutil.FITS())
	f.fsmgr.AddFile(rootPath, "night10/e.fits", testutil.FITS())
	f.scan(t)

	f.fsmgr.FailDir(rootPath, "night1/", errors.New("permission denied"))
	f.fsmgr.RemoveFile(rootPath, "night10/e.fits")
	cs := f.scan(t)

	if len(cs.Removed) != 1 || cs.Removed[0].RelativePath() != "night10/e.fits" {
		t.Errorf("Scan() removed = %v, want night10/e.fits", cs.Removed)
	}
}

func TestScanner_Cancelled(t *testing.T) {
	f := newScanFixture(t)
	f.fsmgr.AddFile(rootPath, "a.fits", testutil.FITS())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := f.scanner.Scan(ctx, f.root); !errors.Is(err, context.Canceled) {
		t.Errorf("Scan() error = %v, want context.Canceled", err)
	}
}
