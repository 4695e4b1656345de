package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"skycat/internal/model"
	"skycat/internal/normalize"
	"skycat/internal/platesolve"
)

// ErrRootNotFound is returned when a storage root name is not registered.
var ErrRootNotFound = errors.New("storage root not found")

// Service is the orchestration layer that coordinates the scanner, the
// header ingester, the query builder and the plate solver on top of the
// persisted catalog.
type Service struct {
	catalogID string
	database  Database
	fsmgr     FilesystemManager
	solver    platesolve.Solver
	vault     Vault
	encryptor Encryptor
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	keywords  *KeywordSet
	chain     *normalize.Chain
	workers   int
}

// Options carries the optional collaborators of a Service. A nil Solver
// disables external plate solving; a nil Vault disables snapshots; a nil
// Encryptor stores snapshots in plaintext.
type Options struct {
	CatalogID string
	Solver    platesolve.Solver
	Vault     Vault
	Encryptor Encryptor
	Keywords  *KeywordSet
	Workers   int
}

// NewService creates a Service with the provided dependencies.
func NewService(database Database, fsmgr FilesystemManager, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Service {
	keywords := opts.Keywords
	if keywords == nil {
		keywords = NewKeywordSet()
	}
	return &Service{
		catalogID: opts.CatalogID,
		database:  database,
		fsmgr:     fsmgr,
		solver:    opts.Solver,
		vault:     opts.Vault,
		encryptor: opts.Encryptor,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		keywords:  keywords,
		chain:     normalize.NewChain(logger),
		workers:   opts.Workers,
	}
}

// AddRoot registers a storage root. The path must be an accessible
// directory. Registering the same name and path again is a no-op.
func (s *Service) AddRoot(ctx context.Context, name, rawPath string) (*model.StorageRoot, error) {
	if name == "" {
		return nil, fmt.Errorf("storage root name is required")
	}
	path, err := s.fsmgr.ResolveRoot(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}

	existing, err := s.database.FindRootByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking for existing root: %w", err)
	}
	if existing != nil {
		if existing.Path == path {
			return existing, nil
		}
		return nil, fmt.Errorf("storage root %q already registered at %s", name, existing.Path)
	}

	root, err := s.database.CreateRoot(ctx, name, path)
	if err != nil {
		return nil, fmt.Errorf("creating root: %w", err)
	}
	s.logger.Info("storage root added", "root", name, "path", path)
	return root, nil
}

// ListRoots returns every registered storage root ordered by name.
func (s *Service) ListRoots(ctx context.Context) ([]*model.StorageRoot, error) {
	roots, err := s.database.ListRoots(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing roots: %w", err)
	}
	return roots, nil
}

// RemoveRoot unregisters a root and drops everything cataloged under it.
// The files on disk are not touched.
func (s *Service) RemoveRoot(ctx context.Context, name string) error {
	root, err := s.findRoot(ctx, name)
	if err != nil {
		return err
	}
	if err := s.database.DeleteRoot(ctx, root.ID); err != nil {
		return fmt.Errorf("deleting root: %w", err)
	}
	s.logger.Info("storage root removed", "root", name)
	return nil
}

func (s *Service) findRoot(ctx context.Context, name string) (*model.StorageRoot, error) {
	root, err := s.database.FindRootByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("finding root: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, name)
	}
	return root, nil
}

// Keywords returns every header keyword seen by this service, after
// loading the ones present in the header cache.
func (s *Service) Keywords(ctx context.Context) ([]string, error) {
	ids, err := s.database.ListHeaderFileIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cached headers: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := s.database.FindHeader(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading header %s: %w", id, err)
		}
		if raw == nil {
			continue
		}
		h, err := raw.Header()
		if err != nil {
			s.logger.Warn("decoding cached header failed", "file_id", id, "err", err)
			continue
		}
		s.keywords.Add(h.Keywords()...)
	}
	return s.keywords.Sorted(), nil
}

// StartOperation records a running operation stamped with the service clock.
func (s *Service) StartOperation(ctx context.Context, operation, parameters string) (*model.Operation, error) {
	op, err := s.database.CreateOperation(ctx, operation, parameters, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("recording operation: %w", err)
	}
	return op, nil
}

// FinishOperation stores the final status of an operation.
func (s *Service) FinishOperation(ctx context.Context, id int64, status string) error {
	if err := s.database.FinishOperation(ctx, id, status, s.clock.Now()); err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	return nil
}

// GetHistory returns the most recent operations, newest first.
func (s *Service) GetHistory(ctx context.Context, limit int) ([]*model.Operation, error) {
	ops, err := s.database.ListOperations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// absPath returns the location of a cataloged file on the local disk.
func absPath(root *model.StorageRoot, f *model.FileRecord) string {
	return filepath.Join(root.Path, filepath.FromSlash(f.RelativePath()))
}
