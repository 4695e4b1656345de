package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"skycat/internal/header"
	"skycat/internal/model"
)

var (
	// ErrRootUnreachable is returned when the top level of a storage root
	// cannot be listed.
	ErrRootUnreachable = errors.New("storage root unreachable")

	// ErrRootEmpty is returned for a root whose top level lists nothing.
	// Such a root is skipped rather than diffed: an unmounted share looks
	// empty and must not wipe its records.
	ErrRootEmpty = errors.New("storage root is empty")
)

// Scanner computes the change set between a storage root on disk and its
// persisted file records.
type Scanner struct {
	fsmgr  FilesystemManager
	db     Database
	idgen  IDGenerator
	logger Logger
}

func NewScanner(fsmgr FilesystemManager, db Database, idgen IDGenerator, logger Logger) *Scanner {
	return &Scanner{fsmgr: fsmgr, db: db, idgen: idgen, logger: logger}
}

// dirState tracks the persisted records of one directory while it is
// being compared with its listing.
type dirState struct {
	byName  map[string]*model.FileRecord
	claimed map[string]bool
}

// Scan walks root with an explicit worklist and returns what changed.
// Nothing is written; the caller commits the result with
// Database.ApplyChangeSet.
func (s *Scanner) Scan(ctx context.Context, root *model.StorageRoot) (*ChangeSet, error) {
	top, err := s.fsmgr.ReadDir(root.Path, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRootUnreachable, root.Path, err)
	}
	if len(top) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRootEmpty, root.Path)
	}

	records, err := s.db.FindFilesByRoot(ctx, root.ID)
	if err != nil {
		return nil, fmt.Errorf("loading file records: %w", err)
	}
	persisted := make(map[string]map[string]*model.FileRecord)
	for _, r := range records {
		if persisted[r.Path] == nil {
			persisted[r.Path] = make(map[string]*model.FileRecord)
		}
		persisted[r.Path][r.Name] = r
	}

	cs := &ChangeSet{RootID: root.ID}
	seen := map[string]bool{"": true}
	var unreadable []string
	worklist := []string{""}
	listing := top

	for len(worklist) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		entries := listing
		listing = nil
		if entries == nil {
			entries, err = s.fsmgr.ReadDir(root.Path, dir)
			if err != nil {
				// Keep the records of an unreadable directory as they are.
				s.logger.Warn("listing directory failed", "root", root.Name, "path", dir, "err", err)
				unreadable = append(unreadable, dir)
				continue
			}
		}

		var files []Entry
		for _, e := range entries {
			if s.fsmgr.IsIgnored(e.Name) {
				s.logger.Debug("skipping ignored entry", "root", root.Name, "path", dir, "name", e.Name)
				continue
			}
			if e.IsDir {
				sub := dir + e.Name + "/"
				seen[sub] = true
				worklist = append(worklist, sub)
				continue
			}
			if _, ok := header.DetectFormat(e.Name); ok {
				files = append(files, e)
			}
		}

		state := &dirState{byName: persisted[dir], claimed: make(map[string]bool)}
		// Exact names claim their records before any variant can.
		for _, e := range files {
			if _, ok := state.byName[e.Name]; ok {
				state.claimed[e.Name] = true
			}
		}
		for _, e := range files {
			s.compare(cs, root.ID, dir, e, state)
		}

		for _, name := range sortedNames(state.byName) {
			if !state.claimed[name] {
				cs.Removed = append(cs.Removed, state.byName[name])
			}
		}
	}

	paths := make([]string, 0, len(persisted))
	for p := range persisted {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if seen[p] || underAny(p, unreadable) {
			continue
		}
		for _, name := range sortedNames(persisted[p]) {
			cs.Removed = append(cs.Removed, persisted[p][name])
		}
	}

	return cs, nil
}

// compare matches one file entry against the persisted records of its
// directory. A record stored under a compression variant of the name
// (x.fits for x.fits.gz and so on) is the same logical file.
func (s *Scanner) compare(cs *ChangeSet, rootID int64, dir string, e Entry, state *dirState) {
	mtime := e.ModTime.UnixMilli()

	existing := state.byName[e.Name]
	if existing == nil {
		for _, name := range header.Variants(e.Name)[1:] {
			if r, ok := state.byName[name]; ok && !state.claimed[name] {
				existing = r
				break
			}
		}
	}

	if existing == nil {
		cs.New = append(cs.New, &model.FileRecord{
			ID:          s.idgen.New(),
			RootID:      rootID,
			Path:        dir,
			Name:        e.Name,
			Size:        e.Size,
			MtimeMillis: mtime,
		})
		return
	}

	state.claimed[existing.Name] = true
	if existing.Name == e.Name && existing.Size == e.Size && existing.MtimeMillis == mtime {
		return
	}
	cs.ChangedIDs = append(cs.ChangedIDs, existing.ID)
	cs.Changed = append(cs.Changed, &model.FileRecord{
		ID:          s.idgen.New(),
		RootID:      rootID,
		Path:        dir,
		Name:        e.Name,
		Size:        e.Size,
		MtimeMillis: mtime,
	})
}

// underAny reports whether path lies inside one of the directories.
func underAny(path string, dirs []string) bool {
	for _, d := range dirs {
		if strings.HasPrefix(path, d) {
			return true
		}
	}
	return false
}

func sortedNames(m map[string]*model.FileRecord) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
