package model

import "time"

// StorageRoot is an operator-registered top-level directory.
type StorageRoot struct {
	ID   int64
	Name string // unique
	Path string // unique, absolute
}

// FileRecord is one image file found under a root. A changed file is
// deleted and inserted again with a new ID, never updated in place.
type FileRecord struct {
	ID          string // UUID
	RootID      int64
	Path        string // root-relative directory: "" or "a/b/"
	Name        string
	Size        int64
	MtimeMillis int64
}

// RelativePath returns the root-relative path of the file.
func (f *FileRecord) RelativePath() string {
	return f.Path + f.Name
}

// SkyPosition is a sky coordinate with its spatial key. Keeping the three
// values in one struct means they are either all present or all absent.
type SkyPosition struct {
	RA    float64 // degrees, [0, 360)
	Dec   float64 // degrees, [-90, 90]
	Pixel int64   // HEALPix nested id at nside 256
}

// ImageMetadata is the canonical record derived from a file header. Empty
// strings and nil pointers are stored as NULL.
type ImageMetadata struct {
	FileID     string
	ImageType  string
	Filter     string
	Camera     string
	Telescope  string
	ObjectName string
	Exposure   *float64
	Gain       *int64
	Offset     *int64
	Binning    *int64
	SetTemp    *float64
	DateObs    *time.Time
	Position   *SkyPosition
}

// Operation is one recorded CLI operation that mutated the catalog.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string // "running", "success" or "error"
}

// SearchResult is one row of a catalog search.
type SearchResult struct {
	File     FileRecord
	RootName string
	RootPath string
	Image    *ImageMetadata // nil when the header could not be normalized
}
