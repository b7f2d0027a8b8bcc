package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
)

// tmpPrefix marks in-flight atomic writes. Temp files are invisible to
// Glob consumers by convention and filtered from move callbacks.
const tmpPrefix = ".write-"

const lockRetryInterval = 50 * time.Millisecond

// Store is a byte-oriented file store rooted at a single directory.
// All paths are relative to the root and use forward slashes.
type Store struct {
	root string
	log  *logger.Logger
}

func New(root string, baseLog *logger.Logger) (*Store, error) {
	if root == "" {
		return nil, svcerr.InvalidArgument("file store root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, svcerr.Internal("resolving store root %q: %v", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, svcerr.Internal("creating store root %q: %v", abs, err)
	}
	return &Store{
		root: abs,
		log:  baseLog.With("component", "filestore"),
	}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) resolve(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", svcerr.InvalidArgument("path %q escapes the store root", path)
	}
	if cleaned == "." {
		return s.root, nil
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *Store) rel(full string) (string, error) {
	r, err := filepath.Rel(s.root, full)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(r), nil
}

func (s *Store) Read(path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, svcerr.NotFound("no file at %q", path)
		}
		return nil, svcerr.Internal("reading %q: %v", path, err)
	}
	return data, nil
}

// Write creates parent directories, writes to a sibling temp file and
// renames it over the destination. Readers observe either the old
// content or the new, never a partial file.
func (s *Store) Write(path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return svcerr.Internal("creating parents for %q: %v", path, err)
	}
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return svcerr.Internal("creating temp for %q: %v", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return svcerr.Internal("writing temp for %q: %v", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return svcerr.Internal("syncing temp for %q: %v", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return svcerr.Internal("closing temp for %q: %v", path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return svcerr.Internal("renaming temp over %q: %v", path, err)
	}
	return nil
}

func (s *Store) Exists(path string) bool {
	full, err := s.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// Glob matches a pattern with `*` wildcards per component and `{a,b}`
// alternation. Results are store-relative, sorted ascending, and
// exclude in-flight temp files.
func (s *Store) Glob(pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, p := range expandBraces(pattern) {
		full, err := s.resolve(p)
		if err != nil {
			return nil, err
		}
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, svcerr.InvalidArgument("bad glob pattern %q: %v", pattern, err)
		}
		for _, m := range matches {
			if strings.HasPrefix(filepath.Base(m), tmpPrefix) {
				continue
			}
			r, err := s.rel(m)
			if err != nil {
				continue
			}
			seen[r] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

// expandBraces rewrites one level of `{a,b}` alternation into the
// cartesian set of plain patterns, recursing for the rest.
func expandBraces(pattern string) []string {
	open := strings.Index(pattern, "{")
	if open < 0 {
		return []string{pattern}
	}
	closing := strings.Index(pattern[open:], "}")
	if closing < 0 {
		return []string{pattern}
	}
	closing += open
	prefix, body, suffix := pattern[:open], pattern[open+1:closing], pattern[closing+1:]
	var out []string
	for _, option := range strings.Split(body, ",") {
		out = append(out, expandBraces(prefix+option+suffix)...)
	}
	return out
}

// ListTree returns every regular file under path, store-relative and
// sorted, excluding in-flight temp files and lock sidecars.
func (s *Store) ListTree(path string) ([]string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(full, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) || strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}
		if rel, rerr := s.rel(p); rerr == nil {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, svcerr.Internal("walking %q: %v", path, err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Remove(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return svcerr.NotFound("no file at %q", path)
		}
		return svcerr.Internal("removing %q: %v", path, err)
	}
	return nil
}

func (s *Store) RemoveTree(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(full); err != nil {
		return svcerr.Internal("removing tree %q: %v", path, err)
	}
	return nil
}

// GetModificationTime returns the mtime in milliseconds since epoch.
func (s *Store) GetModificationTime(path string) (int64, error) {
	full, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, svcerr.NotFound("no file at %q", path)
		}
		return 0, svcerr.Internal("stat %q: %v", path, err)
	}
	return info.ModTime().UnixMilli(), nil
}

// GetStaleness returns now minus the youngest mtime of any regular
// file under path, in milliseconds. NotFound when no files exist.
func (s *Store) GetStaleness(path string) (int64, error) {
	full, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	var youngest time.Time
	found := false
	err = filepath.WalkDir(full, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !found || info.ModTime().After(youngest) {
			youngest = info.ModTime()
			found = true
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, svcerr.Internal("walking %q: %v", path, err)
	}
	if !found {
		return 0, svcerr.NotFound("no files under %q", path)
	}
	staleness := time.Since(youngest).Milliseconds()
	if staleness < 0 {
		staleness = 0
	}
	return staleness, nil
}

// ---- advisory locks ----

// Lock is an exclusive advisory lock realized as a sidecar file.
type Lock struct {
	path  string
	token string
}

// Path returns the locked path (not the sidecar).
func (l *Lock) Path() string { return l.path }

func lockSidecar(path string) string { return path + ".lock" }

// LockFile acquires an exclusive advisory lock on path by creating
// `path+".lock"`. It retries until timeout elapses; zero timeout means
// a single attempt. Contention surfaces as an Aborted error, never a
// partial lock.
func (s *Store) LockFile(path string, timeout time.Duration) (*Lock, error) {
	sidecar, err := s.resolve(lockSidecar(path))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(sidecar), 0o755); err != nil {
		return nil, svcerr.Internal("creating lock parents for %q: %v", path, err)
	}
	token := uuid.NewString()
	content := fmt.Sprintf("%s\n%d\n", token, os.Getpid())
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(sidecar, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if _, werr := f.WriteString(content); werr != nil {
				_ = f.Close()
				_ = os.Remove(sidecar)
				return nil, svcerr.Internal("writing lock for %q: %v", path, werr)
			}
			if cerr := f.Close(); cerr != nil {
				_ = os.Remove(sidecar)
				return nil, svcerr.Internal("closing lock for %q: %v", path, cerr)
			}
			return &Lock{path: path, token: token}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, svcerr.Internal("creating lock for %q: %v", path, err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, svcerr.Aborted("lock on %q is held elsewhere", path)
		}
		wait := lockRetryInterval
		if wait > remaining {
			wait = remaining
		}
		time.Sleep(wait)
	}
}

// UnlockFile releases a lock taken by this store. Releasing a lock the
// caller no longer owns is an Aborted error.
func (s *Store) UnlockFile(l *Lock) error {
	if l == nil {
		return svcerr.InvalidArgument("nil lock")
	}
	sidecar, err := s.resolve(lockSidecar(l.path))
	if err != nil {
		return err
	}
	data, err := os.ReadFile(sidecar)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return svcerr.Aborted("lock on %q is not held", l.path)
		}
		return svcerr.Internal("reading lock for %q: %v", l.path, err)
	}
	owner, _, _ := strings.Cut(string(data), "\n")
	if owner != l.token {
		return svcerr.Aborted("lock on %q is held by another owner", l.path)
	}
	if err := os.Remove(sidecar); err != nil {
		return svcerr.Internal("removing lock for %q: %v", l.path, err)
	}
	return nil
}

// WithLock runs fn while holding the lock and releases it on every
// exit path.
func (s *Store) WithLock(path string, timeout time.Duration, fn func() error) error {
	l, err := s.LockFile(path, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := s.UnlockFile(l); uerr != nil {
			s.log.Warn("releasing lock", "path", path, "error", uerr)
		}
	}()
	return fn()
}

// ---- move notifications ----

// WatchMoves fires callback with the store-relative destination path of
// every file that lands in the tree via rename or create, until ctx is
// cancelled. Callbacks run serialized on a single dispatcher goroutine
// and may repeat for a path; consumers deduplicate.
func (s *Store) WatchMoves(ctx context.Context, callback func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return svcerr.Internal("creating watcher: %v", err)
	}
	if err := addRecursive(watcher, s.root); err != nil {
		_ = watcher.Close()
		return err
	}
	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) {
					continue
				}
				s.dispatchCreate(watcher, ev.Name, callback)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("watcher error", "error", werr)
			}
		}
	}()
	return nil
}

func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if werr := watcher.Add(p); werr != nil {
				return svcerr.Internal("watching %q: %v", p, werr)
			}
		}
		return nil
	})
}

// dispatchCreate fires the callback for a new file, or arms watches and
// sweeps contents when a whole directory moved in.
func (s *Store) dispatchCreate(watcher *fsnotify.Watcher, full string, callback func(string)) {
	if strings.HasPrefix(filepath.Base(full), tmpPrefix) {
		return
	}
	info, err := os.Stat(full)
	if err != nil {
		return
	}
	if !info.IsDir() {
		if rel, err := s.rel(full); err == nil {
			callback(rel)
		}
		return
	}
	// Watch before sweeping so files renamed in during the sweep are
	// seen by one of the two.
	_ = filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = watcher.Add(p)
			return nil
		}
		if strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		if rel, rerr := s.rel(p); rerr == nil {
			callback(rel)
		}
		return nil
	})
}
