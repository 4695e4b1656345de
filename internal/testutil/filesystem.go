package testutil

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"skycat/internal/catalog"
	skyfs "skycat/internal/fs"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content []byte
	ModTime time.Time
}

// MockFilesystemManager is an in-memory set of storage roots for testing.
// Files are addressed by root and root-relative path ("a/b/x.fits");
// directories exist implicitly through the files under them.
type MockFilesystemManager struct {
	mu     sync.Mutex
	roots  map[string]map[string]*MockFile
	dirs   map[string]map[string]bool // explicit, possibly empty directories
	failed map[string]error           // root + "\x00" + dir
	ignore *skyfs.IgnoreMatcher
	clock  *StubClock
}

// NewMockFilesystemManager creates a new mock filesystem. File mtimes come
// from clock.
func NewMockFilesystemManager(clock *StubClock, ignorePatterns ...string) *MockFilesystemManager {
	return &MockFilesystemManager{
		roots:  make(map[string]map[string]*MockFile),
		dirs:   make(map[string]map[string]bool),
		failed: make(map[string]error),
		ignore: skyfs.NewIgnoreMatcher(ignorePatterns),
		clock:  clock,
	}
}

// AddRoot registers an empty root directory.
func (m *MockFilesystemManager) AddRoot(root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addRoot(root)
}

func (m *MockFilesystemManager) addRoot(root string) map[string]*MockFile {
	root = filepath.Clean(root)
	if m.roots[root] == nil {
		m.roots[root] = make(map[string]*MockFile)
		m.dirs[root] = make(map[string]bool)
	}
	return m.roots[root]
}

// AddFile adds or replaces a file, stamping it with the current clock time.
func (m *MockFilesystemManager) AddFile(root, relPath string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addRoot(root)[relPath] = &MockFile{Content: content, ModTime: m.clock.Now()}
}

// AddDirectory adds an empty directory ("a/b").
func (m *MockFilesystemManager) AddDirectory(root, dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addRoot(root)
	m.dirs[filepath.Clean(root)][strings.Trim(dir, "/")+"/"] = true
}

// TouchFile changes the mtime of a file without touching its content.
func (m *MockFilesystemManager) TouchFile(root, relPath string, mtime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.roots[filepath.Clean(root)][relPath]; ok {
		f.ModTime = mtime
	}
}

// RenameFile moves a file within a root, keeping content and mtime.
func (m *MockFilesystemManager) RenameFile(root, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := m.roots[filepath.Clean(root)]
	if f, ok := files[from]; ok {
		delete(files, from)
		files[to] = f
	}
}

func (m *MockFilesystemManager) RemoveFile(root, relPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roots[filepath.Clean(root)], relPath)
}

// RemoveAll empties a root, as if its share were unmounted.
func (m *MockFilesystemManager) RemoveAll(root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root = filepath.Clean(root)
	m.roots[root] = make(map[string]*MockFile)
	m.dirs[root] = make(map[string]bool)
}

// FailDir makes listing dir ("" for the top level) fail with err.
func (m *MockFilesystemManager) FailDir(root, dir string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[filepath.Clean(root)+"\x00"+dir] = err
}

func (m *MockFilesystemManager) ResolveRoot(rawPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root := filepath.Clean(rawPath)
	if _, ok := m.roots[root]; !ok {
		return "", fmt.Errorf("not a directory: %s", rawPath)
	}
	return root, nil
}

func (m *MockFilesystemManager) ReadDir(root, dir string) ([]catalog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	root = filepath.Clean(root)
	if err, ok := m.failed[root+"\x00"+dir]; ok {
		return nil, err
	}
	files, ok := m.roots[root]
	if !ok {
		return nil, fmt.Errorf("no such directory: %s", root)
	}

	subdirs := make(map[string]bool)
	var out []catalog.Entry
	for rel, f := range files {
		rest, ok := strings.CutPrefix(rel, dir)
		if !ok {
			continue
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			subdirs[rest[:i]] = true
			continue
		}
		out = append(out, catalog.Entry{Name: rest, Size: int64(len(f.Content)), ModTime: f.ModTime})
	}
	for d := range m.dirs[root] {
		rest, ok := strings.CutPrefix(d, dir)
		if !ok || rest == "" {
			continue
		}
		subdirs[rest[:strings.IndexByte(rest, '/')]] = true
	}
	for name := range subdirs {
		out = append(out, catalog.Entry{Name: name, IsDir: true})
	}
	if len(out) == 0 && dir != "" {
		return nil, fmt.Errorf("no such directory: %s", path.Join(root, dir))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MockFilesystemManager) Open(root, relPath string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.roots[filepath.Clean(root)][relPath]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", relPath)
	}
	return io.NopCloser(bytes.NewReader(f.Content)), nil
}

func (m *MockFilesystemManager) IsIgnored(name string) bool {
	return m.ignore.Match(name)
}

// Compile-time check
var _ catalog.FilesystemManager = (*MockFilesystemManager)(nil)
