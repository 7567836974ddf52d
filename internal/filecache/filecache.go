// Package filecache persists, per local file, the digest the file had when it
// was last confirmed in sync, together with the backend that produced it.
package filecache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	"github.com/goccy/go-json"
	"github.com/kitovu/kitovu/internal/digest"
	"github.com/kitovu/kitovu/internal/utils"
	"github.com/spf13/afero"
)

const (
	// FileName is the well-known name of the cache file in the user data directory.
	FileName = "filecache.json"

	tmpSuffix  = ".tmp"
	lockSuffix = ".lock"
)

var (
	ErrMalformedCache = errors.New("malformed cache file")
	ErrCacheLocked    = errors.New("cache locked by another sync run")
)

// CacheIOError is returned when the cache file cannot be read, decoded or written.
type CacheIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CacheIOError) Unwrap() error { return e.Err }

// Entry is the persisted state of a single local path.
type Entry struct {
	Backend string        `json:"plugin"`
	Digest  digest.Digest `json:"digest,omitempty"`
}

type FileCache struct {
	path    string
	fs      afero.Fs
	flock   *flock.Flock
	mu      sync.Mutex
	entries map[string]Entry
}

type Option func(*FileCache)

// WithFs replaces the filesystem the cache file is read from and written to.
func WithFs(fs afero.Fs) Option {
	return func(c *FileCache) {
		c.fs = fs
	}
}

func New(path string, opts ...Option) *FileCache {
	c := &FileCache{
		path:    path,
		fs:      afero.NewOsFs(),
		flock:   flock.New(path + lockSuffix),
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *FileCache) Path() string { return c.path }

// Lock takes an exclusive, non-blocking lock so that only one run owns the cache.
func (c *FileCache) Lock() error {
	if err := utils.EnsureParent(c.flock.Path()); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	locked, err := c.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock cache: %w", err)
	}
	if !locked {
		return ErrCacheLocked
	}
	return nil
}

func (c *FileCache) Unlock() error {
	if !c.flock.Locked() {
		return nil
	}
	// the lock file is kept so every run locks the same inode
	if err := c.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock cache: %w", err)
	}
	return nil
}

// Load replaces the in-memory entries with the content of the cache file.
// A missing file yields an empty cache.
func (c *FileCache) Load() error {
	data, err := afero.ReadFile(c.fs, c.path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("cache file missing, starting empty", "path", c.path)
		c.reset(make(map[string]Entry))
		return nil
	} else if err != nil {
		return &CacheIOError{Op: "read", Path: c.path, Err: err}
	}

	entries := make(map[string]Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return &CacheIOError{Op: "decode", Path: c.path, Err: fmt.Errorf("%w: %w", ErrMalformedCache, err)}
	}
	// an entry without digest is valid: no digest was captured for it yet
	for path, entry := range entries {
		if entry.Backend == "" {
			return &CacheIOError{Op: "decode", Path: c.path, Err: fmt.Errorf("%w: no plugin for %q", ErrMalformedCache, path)}
		}
	}

	c.reset(entries)
	slog.Debug("cache loaded", "path", c.path, "entries", len(entries))
	return nil
}

func (c *FileCache) reset(entries map[string]Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
}

func (c *FileCache) Lookup(localPath string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[localPath]
	return entry, ok
}

// Record overwrites any prior entry for localPath.
func (c *FileCache) Record(localPath string, backend string, d digest.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[localPath] = Entry{Backend: backend, Digest: d}
}

func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Paths returns all cached local paths in sorted order.
func (c *FileCache) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, 0, len(c.entries))
	for p := range c.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Persist writes the complete cache to a temporary file and renames it over
// the cache file, so readers either see the previous or the new content.
func (c *FileCache) Persist() error {
	c.mu.Lock()
	data, err := json.Marshal(c.entries)
	count := len(c.entries)
	c.mu.Unlock()
	if err != nil {
		return &CacheIOError{Op: "encode", Path: c.path, Err: err}
	}

	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return &CacheIOError{Op: "mkdir", Path: c.path, Err: err}
	}

	tmpPath := c.path + tmpSuffix
	if err := c.writeFile(tmpPath, data); err != nil {
		_ = c.fs.Remove(tmpPath)
		return &CacheIOError{Op: "write", Path: tmpPath, Err: err}
	}

	if err := c.fs.Rename(tmpPath, c.path); err != nil {
		_ = c.fs.Remove(tmpPath)
		return &CacheIOError{Op: "rename", Path: c.path, Err: err}
	}

	slog.Debug("cache persisted", "path", c.path, "entries", count)
	return nil
}

func (c *FileCache) writeFile(path string, data []byte) error {
	f, err := c.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
