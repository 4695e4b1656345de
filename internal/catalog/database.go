package catalog

import (
	"context"
	"time"

	"skycat/internal/header"
	"skycat/internal/model"
	"skycat/internal/search"
)

// Database provides the persisted catalog. Lookups that find nothing
// return nil and no error.
type Database interface {
	// Storage roots

	CreateRoot(ctx context.Context, name, path string) (*model.StorageRoot, error)
	FindRootByName(ctx context.Context, name string) (*model.StorageRoot, error)
	ListRoots(ctx context.Context) ([]*model.StorageRoot, error)
	// DeleteRoot removes a root and, by cascade, everything cataloged under it.
	DeleteRoot(ctx context.Context, id int64) error

	// File records

	// FindFilesByRoot returns every file record of a root.
	FindFilesByRoot(ctx context.Context, rootID int64) ([]*model.FileRecord, error)
	FindFile(ctx context.Context, id string) (*model.FileRecord, error)
	// FindFilesWithoutHeader returns the records of a root that have no
	// cached header, usually because extraction failed earlier.
	FindFilesWithoutHeader(ctx context.Context, rootID int64) ([]*model.FileRecord, error)
	// ApplyChangeSet commits a scan result in one transaction. Stale ids
	// are deleted before their replacements are inserted.
	ApplyChangeSet(ctx context.Context, cs *ChangeSet) error

	// Headers and canonical metadata

	// SaveHeader stores the raw header of a file and replaces its
	// canonical record. A nil meta leaves the file without one.
	SaveHeader(ctx context.Context, fileID string, raw *header.Raw, meta *model.ImageMetadata) error
	FindHeader(ctx context.Context, fileID string) (*header.Raw, error)
	// ListHeaderFileIDs returns the ids of all files with a cached header.
	ListHeaderFileIDs(ctx context.Context) ([]string, error)
	// SaveImage replaces the canonical record of a file. A nil meta
	// removes it.
	SaveImage(ctx context.Context, fileID string, meta *model.ImageMetadata) error
	FindImage(ctx context.Context, fileID string) (*model.ImageMetadata, error)

	// Plate solutions

	// FindUnsolvedFiles returns FITS files with a cached header and no
	// stored solution.
	FindUnsolvedFiles(ctx context.Context) ([]*model.FileRecord, error)
	// SaveSolution stores the WCS cards of a file and moves its canonical
	// position to the solved center.
	SaveSolution(ctx context.Context, fileID string, wcs *header.Header, pos *model.SkyPosition) error
	FindSolution(ctx context.Context, fileID string) (*header.Header, error)

	// Search

	Search(ctx context.Context, q *search.Query, limit int) ([]*model.SearchResult, error)
	// DistinctValues lists the values of column among records matching q,
	// with "" standing for missing values.
	DistinctValues(ctx context.Context, q *search.Query, column search.Column) ([]string, error)

	// Operation tracking

	CreateOperation(ctx context.Context, operation, parameters string, startedAt time.Time) (*model.Operation, error)
	FinishOperation(ctx context.Context, id int64, status string, finishedAt time.Time) error
	ListOperations(ctx context.Context, limit int) ([]*model.Operation, error)
	MaxOperationID(ctx context.Context) (int64, error)

	// CheckMigrations verifies the database schema is up-to-date.
	CheckMigrations() error
	// BackupTo writes a consistent copy of the catalog to destPath.
	BackupTo(destPath string) error
	Close() error
}
