package catalog

import (
	"io"
	"time"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// FilesystemManager abstracts access to storage roots so the diff engine
// can be tested without touching the real filesystem. Directories and
// files are addressed relative to a root, with forward slashes.
type FilesystemManager interface {
	// ResolveRoot validates a raw root path and returns it in absolute form.
	// It fails unless the path is an accessible directory.
	ResolveRoot(rawPath string) (string, error)

	// ReadDir lists the immediate entries of dir ("" or "a/b/") under root.
	ReadDir(root, dir string) ([]Entry, error)

	// Open opens the file at relPath under root for reading.
	Open(root, relPath string) (io.ReadCloser, error)

	// IsIgnored reports whether a file or directory name matches the
	// configured ignore patterns.
	IsIgnored(name string) bool
}
