package pidfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/jnrbsn/daemonocle/internal/procprobe"
)

// ErrBroken is returned by Read after removing a pid file whose contents
// could not be parsed. The file is already gone when the caller sees it.
var ErrBroken = errors.New("empty or broken pid file")

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.New("pid file is locked by another process")

// Store manages a single pid file: exclusive-lock acquisition, stale and
// broken file recovery, and removal on shutdown.
type Store struct {
	path  string
	uid   int
	gid   int
	umask int

	lock *flock.Flock
}

// New returns a store for the given path. The uid, gid, and umask control
// ownership and mode of the pid file and its directory when they have to be
// created.
func New(path string, uid, gid, umask int) *Store {
	return &Store{path: path, uid: uid, gid: gid, umask: umask}
}

func (s *Store) Path() string { return s.path }

// SetPath re-points the store, e.g. after the path has been re-expressed
// relative to a new root directory.
func (s *Store) SetPath(path string) { s.path = path }

// Read returns the pid recorded in the file, or 0 when no pid file is
// configured, the file is absent, or the recorded process is dead (the stale
// file is removed). Unparsable contents remove the file and return ErrBroken
// so the caller can emit a warning.
func (s *Store) Read() (int, error) {
	if s.path == "" {
		return 0, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pid file %q: %w", s.path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		_ = os.Remove(s.path)
		return 0, fmt.Errorf("%w: %s", ErrBroken, s.path)
	}

	if !procprobe.Exists(pid) {
		// Stale pid file referencing a dead process.
		_ = os.Remove(s.path)
		return 0, nil
	}

	return pid, nil
}

// EnsureDir creates the pid file's directory if it is missing, with mode
// derived from the umask and ownership set to the configured uid/gid.
func (s *Store) EnsureDir() error {
	if s.path == "" {
		return nil
	}
	return EnsureDir(filepath.Dir(s.path), s.uid, s.gid, s.umask)
}

// Acquire takes the advisory exclusive lock and records the given pid.
// Two processes racing to start cannot both succeed: the loser gets
// ErrLocked immediately rather than corrupting the file.
func (s *Store) Acquire(pid int) error {
	if s.path == "" {
		return nil
	}

	lock := flock.New(s.path)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock pid file %q: %w", s.path, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, s.path)
	}
	s.lock = lock

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(0o666&^s.umask))
	if err != nil {
		_ = lock.Unlock()
		s.lock = nil
		return fmt.Errorf("write pid file %q: %w", s.path, err)
	}
	_, werr := fmt.Fprintf(f, "%d\n", pid)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = lock.Unlock()
		s.lock = nil
		if werr != nil {
			return fmt.Errorf("write pid file %q: %w", s.path, werr)
		}
		return fmt.Errorf("write pid file %q: %w", s.path, cerr)
	}
	// The lock may have created the file with restrictive permissions.
	_ = os.Chmod(s.path, fs.FileMode(0o666&^s.umask))
	return nil
}

// Locked reports whether this store currently holds the lock.
func (s *Store) Locked() bool { return s.lock != nil }

// Release closes the lock handle and deletes the file. A file that is
// already gone is not an error; any other removal failure is.
func (s *Store) Release() error {
	if s.path == "" {
		return nil
	}
	if s.lock != nil {
		_ = s.lock.Unlock()
		s.lock = nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pid file %q: %w", s.path, err)
	}
	return nil
}

// EnsureDir creates dir (and parents) if missing, applying the mode derived
// from umask and chowning to uid/gid. Existing directories are left alone.
func EnsureDir(dir string, uid, gid, umask int) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(dir, fs.FileMode(0o777&^umask)); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	if err := os.Chown(dir, uid, gid); err != nil {
		return fmt.Errorf("chown directory %q: %w", dir, err)
	}
	return nil
}
