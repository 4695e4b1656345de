package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"skycat/internal/catalog"
)

// OSFilesystemManager is the real filesystem implementation of
// catalog.FilesystemManager. Network shares work through their mount
// point like any local directory.
type OSFilesystemManager struct {
	ignore *IgnoreMatcher
}

// NewOSFilesystemManager creates a filesystem manager that skips names
// matching the ignore patterns.
func NewOSFilesystemManager(ignorePatterns []string) *OSFilesystemManager {
	return &OSFilesystemManager{ignore: NewIgnoreMatcher(ignorePatterns)}
}

// ResolveRoot returns the absolute form of rawPath, which must be a
// directory.
func (m *OSFilesystemManager) ResolveRoot(rawPath string) (string, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", absPath)
	}
	return absPath, nil
}

// ReadDir lists dir under root. Entries that are neither regular files
// nor directories are left out. Symlinks to files are followed, symlinks
// to directories are not, so a link cycle cannot make a walk endless.
func (m *OSFilesystemManager) ReadDir(root, dir string) ([]catalog.Entry, error) {
	full := filepath.Join(root, filepath.FromSlash(dir))
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	out := make([]catalog.Entry, 0, len(entries))
	for _, e := range entries {
		info, err := os.Stat(filepath.Join(full, e.Name()))
		if err != nil {
			// Dangling symlink or a file removed while listing.
			continue
		}
		if info.IsDir() && e.Type()&os.ModeSymlink != 0 {
			continue
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			continue
		}
		out = append(out, catalog.Entry{
			Name:    e.Name(),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

// Open opens the file at relPath under root for reading.
func (m *OSFilesystemManager) Open(root, relPath string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(root, filepath.FromSlash(relPath)))
}

func (m *OSFilesystemManager) IsIgnored(name string) bool {
	return m.ignore.Match(name)
}

// Compile-time check that OSFilesystemManager implements catalog.FilesystemManager
var _ catalog.FilesystemManager = (*OSFilesystemManager)(nil)
