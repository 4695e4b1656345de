package catalog

import "io"

// SnapshotName is the vault item holding the catalog database.
const SnapshotName = "catalog"

// Vault stores versioned catalog snapshots off the machine.
// All operations use io.Reader/io.Writer for streaming.
type Vault interface {
	// PutSnapshot stores a named item for a catalog. size is the number
	// of bytes that will be read from r; version is stored alongside for
	// consistency checks.
	PutSnapshot(catalogID, name string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the named item for a catalog to w.
	GetSnapshot(catalogID, name string, w io.Writer) error

	// SnapshotVersion returns the stored version, or 0 if nothing has
	// been stored for this catalog/name.
	SnapshotVersion(catalogID, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
