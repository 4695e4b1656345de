package catalog

import (
	"context"
	"errors"
	"fmt"

	"skycat/internal/model"
	"skycat/internal/platesolve"
)

// ErrSolverNotConfigured is reported for files that need the external
// solver when none is configured.
var ErrSolverNotConfigured = errors.New("plate solver not configured")

// SolveResult is the outcome of solving one file.
type SolveResult struct {
	File *model.FileRecord
	// Position is the solved center, when the solution has one.
	Position *model.SkyPosition
	// FromHeader is set when the file already carried a usable WCS and
	// the solver was not run.
	FromHeader bool
	Err        error
}

// Solve plate solves the given files. Per-file failures are reported in
// the results; only cancellation and catalog errors are returned.
func (s *Service) Solve(ctx context.Context, fileIDs []string) ([]*SolveResult, error) {
	files := make([]*model.FileRecord, 0, len(fileIDs))
	for _, id := range fileIDs {
		f, err := s.database.FindFile(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("finding file %s: %w", id, err)
		}
		if f == nil {
			return nil, fmt.Errorf("file not found: %s", id)
		}
		files = append(files, f)
	}
	return s.solveFiles(ctx, files)
}

// SolveAll plate solves every FITS file that has no stored solution.
func (s *Service) SolveAll(ctx context.Context) ([]*SolveResult, error) {
	files, err := s.database.FindUnsolvedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding unsolved files: %w", err)
	}
	return s.solveFiles(ctx, files)
}

func (s *Service) solveFiles(ctx context.Context, files []*model.FileRecord) ([]*SolveResult, error) {
	roots, err := s.database.ListRoots(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing roots: %w", err)
	}
	byID := make(map[int64]*model.StorageRoot, len(roots))
	for _, r := range roots {
		byID[r.ID] = r
	}

	var results []*SolveResult
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.solveOne(ctx, byID[f.RootID], f)
		if err != nil {
			return results, err
		}
		if res.Err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			s.logger.Warn("plate solve failed", "path", f.Path, "file", f.Name, "err", res.Err)
		} else {
			s.logger.Info("plate solved", "path", f.Path, "file", f.Name, "from_header", res.FromHeader)
		}
		results = append(results, res)
	}
	return results, nil
}

// solveOne returns an error only when the catalog itself fails.
func (s *Service) solveOne(ctx context.Context, root *model.StorageRoot, f *model.FileRecord) (*SolveResult, error) {
	res := &SolveResult{File: f}
	if root == nil {
		res.Err = fmt.Errorf("%w: root %d", ErrRootNotFound, f.RootID)
		return res, nil
	}

	raw, err := s.database.FindHeader(ctx, f.ID)
	if err != nil {
		return nil, fmt.Errorf("loading header of %s: %w", f.ID, err)
	}
	if raw == nil {
		res.Err = fmt.Errorf("no cached header for %s", f.RelativePath())
		return res, nil
	}
	h, err := raw.Header()
	if err != nil {
		res.Err = err
		return res, nil
	}

	wcs := h
	if platesolve.IsSolved(h) {
		res.FromHeader = true
	} else {
		if s.solver == nil {
			res.Err = ErrSolverNotConfigured
			return res, nil
		}
		meta, err := s.database.FindImage(ctx, f.ID)
		if err != nil {
			return nil, fmt.Errorf("loading metadata of %s: %w", f.ID, err)
		}
		req := platesolve.Request{Path: absPath(root, f), Header: h}
		if meta != nil {
			req.Known = meta.Position
		}
		if wcs, err = s.solver.Solve(ctx, req); err != nil {
			res.Err = err
			return res, nil
		}
	}
	wcs = platesolve.ExtractWCS(wcs)

	pos, err := platesolve.Center(wcs)
	if err != nil {
		s.logger.Warn("solution has no usable center", "path", f.Path, "file", f.Name, "err", err)
		pos = nil
	}
	if err := s.database.SaveSolution(ctx, f.ID, wcs, pos); err != nil {
		return nil, fmt.Errorf("saving solution of %s: %w", f.ID, err)
	}
	res.Position = pos
	return res, nil
}
