package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"skycat/internal/model"
	"skycat/internal/platesolve"
)

// RootReport is the outcome of scanning one storage root.
type RootReport struct {
	Root    *model.StorageRoot
	New     int
	Changed int
	Removed int
	Ingest  IngestStats
	// Skipped is set when the root listed empty and was left alone.
	Skipped bool
	// Err is set when the root could not be scanned. Other roots are
	// unaffected.
	Err error
}

// ScanReport collects the per-root outcomes of a scan.
type ScanReport struct {
	Roots []*RootReport
}

// Failed returns the reports of roots that could not be scanned.
func (r *ScanReport) Failed() []*RootReport {
	var out []*RootReport
	for _, rr := range r.Roots {
		if rr.Err != nil {
			out = append(out, rr)
		}
	}
	return out
}

// Totals sums the counts of all roots.
func (r *ScanReport) Totals() RootReport {
	var t RootReport
	for _, rr := range r.Roots {
		t.New += rr.New
		t.Changed += rr.Changed
		t.Removed += rr.Removed
		t.Ingest.add(rr.Ingest)
	}
	return t
}

// Scan brings the catalog in line with the disk for the named root, or
// for every root when name is "". Roots are scanned concurrently. An
// unreachable root is reported and skipped; only a failed commit or
// cancellation is returned as an error.
func (s *Service) Scan(ctx context.Context, name string) (*ScanReport, error) {
	var roots []*model.StorageRoot
	if name != "" {
		root, err := s.findRoot(ctx, name)
		if err != nil {
			return nil, err
		}
		roots = []*model.StorageRoot{root}
	} else {
		var err error
		if roots, err = s.ListRoots(ctx); err != nil {
			return nil, err
		}
	}

	report := &ScanReport{Roots: make([]*RootReport, len(roots))}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range roots {
		g.Go(func() error {
			rr, err := s.scanRoot(gctx, root)
			mu.Lock()
			report.Roots[i] = rr
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Service) scanRoot(ctx context.Context, root *model.StorageRoot) (*RootReport, error) {
	rr := &RootReport{Root: root}
	s.logger.Info("scanning storage root", "root", root.Name, "path", root.Path)

	scanner := NewScanner(s.fsmgr, s.database, s.idgen, s.logger)
	cs, err := scanner.Scan(ctx, root)
	switch {
	case errors.Is(err, ErrRootEmpty):
		s.logger.Warn("skipping empty storage root", "root", root.Name, "path", root.Path)
		rr.Skipped = true
		return rr, nil
	case ctx.Err() != nil:
		rr.Err = ctx.Err()
		return rr, ctx.Err()
	case err != nil:
		s.logger.Error("scanning storage root failed", "root", root.Name, "err", err)
		rr.Err = err
		return rr, nil
	}

	rr.New, rr.Changed, rr.Removed = len(cs.New), len(cs.Changed), len(cs.Removed)
	if !cs.Empty() {
		if err := s.database.ApplyChangeSet(ctx, cs); err != nil {
			rr.Err = err
			return rr, fmt.Errorf("committing changes of root %s: %w", root.Name, err)
		}
	}

	// New and changed files have no header yet; neither do files whose
	// extraction failed on an earlier scan.
	pending, err := s.database.FindFilesWithoutHeader(ctx, root.ID)
	if err != nil {
		rr.Err = fmt.Errorf("finding files without header: %w", err)
		return rr, rr.Err
	}
	ingester := NewIngester(s.fsmgr, s.database, s.chain, s.keywords, s.logger, s.workers)
	rr.Ingest, err = ingester.Ingest(ctx, root, pending)
	if err != nil {
		rr.Err = err
		return rr, fmt.Errorf("ingesting headers of root %s: %w", root.Name, err)
	}

	s.logger.Info("storage root scanned", "root", root.Name,
		"new", rr.New, "changed", rr.Changed, "removed", rr.Removed,
		"headers", rr.Ingest.Headers, "normalized", rr.Ingest.Normalized, "failed", rr.Ingest.Failed)
	return rr, nil
}

// applySolution keeps a stored plate solution authoritative over the
// position written in the header.
func (s *Service) applySolution(ctx context.Context, meta *model.ImageMetadata) error {
	wcs, err := s.database.FindSolution(ctx, meta.FileID)
	if err != nil {
		return fmt.Errorf("loading solution of %s: %w", meta.FileID, err)
	}
	if wcs == nil {
		return nil
	}
	pos, err := platesolve.Center(wcs)
	if err != nil {
		s.logger.Warn("stored solution has no usable center", "file_id", meta.FileID, "err", err)
		return nil
	}
	meta.Position = pos
	return nil
}

// RebuildStats counts the outcome of a rebuild.
type RebuildStats struct {
	Headers    int
	Normalized int
	Failed     int
}

// Rebuild re-derives every canonical record from the header cache
// without reading image files. Use it after the normalizer rules change.
func (s *Service) Rebuild(ctx context.Context) (RebuildStats, error) {
	var stats RebuildStats
	ids, err := s.database.ListHeaderFileIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing cached headers: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		raw, err := s.database.FindHeader(ctx, id)
		if err != nil {
			return stats, fmt.Errorf("loading header %s: %w", id, err)
		}
		if raw == nil {
			continue
		}
		stats.Headers++

		var meta *model.ImageMetadata
		h, err := raw.Header()
		if err == nil {
			s.keywords.Add(h.Keywords()...)
			meta, err = s.chain.Normalize(id, h)
		}
		if err != nil {
			s.logger.Warn("normalizing cached header failed", "file_id", id, "err", err)
			stats.Failed++
		} else {
			stats.Normalized++
			if err := s.applySolution(ctx, meta); err != nil {
				return stats, err
			}
		}

		if err := s.database.SaveImage(ctx, id, meta); err != nil {
			return stats, fmt.Errorf("saving metadata of %s: %w", id, err)
		}
	}

	s.logger.Info("catalog rebuilt", "headers", stats.Headers, "normalized", stats.Normalized, "failed", stats.Failed)
	return stats, nil
}
