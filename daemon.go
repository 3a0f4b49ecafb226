package daemonocle

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jnrbsn/daemonocle/internal/pathutil"
	"github.com/jnrbsn/daemonocle/internal/pidfile"
)

const defaultStopTimeout = 10 * time.Second

// ShutdownHook runs exactly once inside the daemon process while it is
// shutting down, before the pid file is released. It receives a
// human-readable description of why the daemon is exiting and the exit
// code it will exit with.
type ShutdownHook func(message string, code int)

// Daemon turns a worker function into a well-behaved Unix daemon with
// start/stop/restart/status actions, pid file management, privilege
// dropping, and signal-driven shutdown.
type Daemon struct {
	name           string
	worker         Worker
	detach         bool
	pidPath        string
	pid            *pidfile.Store
	workDir        string
	chrootDir      string
	stdoutFile     string
	stderrFile     string
	uid            int
	gid            int
	umask          int
	closeOpenFiles bool
	stopTimeout    time.Duration
	shutdownHook   ShutdownHook
	logger         *slog.Logger

	actions []action

	origWorkDir      string
	shutdownMu       sync.Mutex
	shutdownComplete bool

	// Seams for tests. Production values are os.Stdout, os.Stderr,
	// and os.Exit.
	stdout io.Writer
	stderr io.Writer
	exitFn func(code int)
}

// Option configures a Daemon under construction.
type Option func(*Daemon) error

// WithName sets the daemon's display name, used in messages and as the
// "name" status field. Defaults to the basename of the running program.
func WithName(name string) Option {
	return func(d *Daemon) error {
		if name == "" {
			return &ConfigError{Message: "Daemon name must not be empty"}
		}
		d.name = name
		return nil
	}
}

// WithWorker sets the worker function. A worker is required for the start
// and restart actions.
func WithWorker(w Worker) Option {
	return func(d *Daemon) error {
		d.worker = w
		return nil
	}
}

// WithPIDFile sets the pid file path. Without one, start still works but
// cannot detect an already-running instance, and stop/status/restart are
// unavailable.
func WithPIDFile(path string) Option {
	return func(d *Daemon) error {
		d.pidPath = path
		return nil
	}
}

// WithDetach controls whether start detaches into the background.
// Defaults to true. Detaching is skipped automatically when the process
// is already running under a supervisor (see package docs).
func WithDetach(detach bool) Option {
	return func(d *Daemon) error {
		d.detach = detach
		return nil
	}
}

// WithWorkDir sets the working directory the daemon changes into.
// Defaults to "/". With a chroot configured, the path is interpreted
// relative to the new root.
func WithWorkDir(dir string) Option {
	return func(d *Daemon) error {
		d.workDir = dir
		return nil
	}
}

// WithChrootDir confines the daemon to the given directory via chroot.
// Requires sufficient privilege at start time.
func WithChrootDir(dir string) Option {
	return func(d *Daemon) error {
		d.chrootDir = dir
		return nil
	}
}

// WithStdoutFile appends the daemon's stdout to the given file. With a
// chroot configured, the path is interpreted relative to the new root.
func WithStdoutFile(path string) Option {
	return func(d *Daemon) error {
		d.stdoutFile = path
		return nil
	}
}

// WithStderrFile appends the daemon's stderr to the given file. May be
// the same path as the stdout file, in which case both streams share one
// descriptor.
func WithStderrFile(path string) Option {
	return func(d *Daemon) error {
		d.stderrFile = path
		return nil
	}
}

// WithUser sets the uid and gid the daemon drops to during environment
// setup. Defaults to the current user and group.
func WithUser(uid, gid int) Option {
	return func(d *Daemon) error {
		if uid < 0 || gid < 0 {
			return configErrorf("Invalid uid/gid: %d/%d", uid, gid)
		}
		d.uid = uid
		d.gid = gid
		return nil
	}
}

// WithUmask sets the file creation mask applied during environment setup
// and used when creating pid, stdout, and stderr files and their parent
// directories. Defaults to 0o22.
func WithUmask(umask int) Option {
	return func(d *Daemon) error {
		if umask < 0 || umask > 0o777 {
			return configErrorf("Invalid umask: %#o", umask)
		}
		d.umask = umask
		return nil
	}
}

// WithCloseOpenFiles closes every inherited descriptor above stderr after
// the standard streams have been redirected. The pid file lock descriptor
// is preserved.
func WithCloseOpenFiles(enabled bool) Option {
	return func(d *Daemon) error {
		d.closeOpenFiles = enabled
		return nil
	}
}

// WithStopTimeout sets how long stop waits for the daemon to exit after
// SIGTERM, and how long a reload waits for the predecessor. Defaults to
// 10 seconds.
func WithStopTimeout(timeout time.Duration) Option {
	return func(d *Daemon) error {
		if timeout <= 0 {
			return configErrorf("Stop timeout must be positive, got %v", timeout)
		}
		d.stopTimeout = timeout
		return nil
	}
}

// WithShutdownHook registers a function that runs inside the daemon
// process during shutdown, before the pid file is released.
func WithShutdownHook(hook ShutdownHook) Option {
	return func(d *Daemon) error {
		if hook == nil {
			return &ConfigError{Message: "Shutdown hook must not be nil"}
		}
		d.shutdownHook = hook
		return nil
	}
}

// WithLogger sets the structured logger for internal lifecycle events.
// Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) error {
		if logger == nil {
			return &ConfigError{Message: "Logger must not be nil"}
		}
		d.logger = logger
		return nil
	}
}

// New builds a Daemon from the given options, normalizes all configured
// paths to absolute form, and decides once whether detaching is necessary
// for this environment.
func New(opts ...Option) (*Daemon, error) {
	d := &Daemon{
		name:        filepath.Base(os.Args[0]),
		detach:      true,
		workDir:     "/",
		uid:         os.Getuid(),
		gid:         os.Getgid(),
		umask:       0o22,
		stopTimeout: defaultStopTimeout,
		origWorkDir: "/",
		logger:      slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		exitFn:      os.Exit,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if err := d.normalize(); err != nil {
		return nil, err
	}
	d.registerBuiltins()
	return d, nil
}

// normalize resolves all configured paths to absolute form and constructs
// the pid file store. With a chroot configured, user-supplied paths are
// interpreted relative to the new root and stored in their outside form
// until the chroot is actually applied.
func (d *Daemon) normalize() error {
	if d.chrootDir != "" {
		abs, err := filepath.Abs(d.chrootDir)
		if err != nil {
			return configErrorf("Unable to resolve chroot directory %q (%v)", d.chrootDir, err)
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		if err := checkDir(abs); err != nil {
			return err
		}
		d.chrootDir = abs

		if d.workDir == "" {
			d.workDir = d.chrootDir
		} else {
			d.workDir = pathutil.Unchroot(d.workDir, d.chrootDir)
		}
		if d.pidPath != "" {
			d.pidPath = pathutil.Unchroot(d.pidPath, d.chrootDir)
		}
		if d.stdoutFile != "" {
			d.stdoutFile = pathutil.Unchroot(d.stdoutFile, d.chrootDir)
		}
		if d.stderrFile != "" {
			d.stderrFile = pathutil.Unchroot(d.stderrFile, d.chrootDir)
		}
	} else {
		wd, err := absReal(d.workDir)
		if err != nil {
			return configErrorf("Unable to resolve working directory %q (%v)", d.workDir, err)
		}
		d.workDir = wd
		for _, p := range []*string{&d.pidPath, &d.stdoutFile, &d.stderrFile} {
			if *p == "" {
				continue
			}
			abs, err := filepath.Abs(*p)
			if err != nil {
				return configErrorf("Unable to resolve path %q (%v)", *p, err)
			}
			*p = abs
		}
	}
	if err := checkDir(d.workDir); err != nil {
		return err
	}

	d.pid = pidfile.New(d.pidPath, d.uid, d.gid, d.umask)

	if d.detach {
		d.detach = isDetachNecessary()
	}
	return nil
}

// Name returns the daemon's display name.
func (d *Daemon) Name() string { return d.name }

// PIDFile returns the configured pid file path, or "" when none is set.
func (d *Daemon) PIDFile() string { return d.pid.Path() }

// CurrentPID returns the pid recorded in the pid file, or 0 when the
// daemon is not running. Broken or stale pid files are cleaned up with a
// warning.
func (d *Daemon) CurrentPID() int { return d.readPID() }

// StopTimeout returns how long stop waits after SIGTERM before declaring
// failure.
func (d *Daemon) StopTimeout() time.Duration { return d.stopTimeout }

func absReal(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return configErrorf("%q is not a directory (%v)", dir, err)
	}
	if !info.IsDir() {
		return configErrorf("%q is not a directory", dir)
	}
	return nil
}

func (d *Daemon) emitMessage(format string, args ...any) {
	fmt.Fprintf(d.stdout, format, args...)
}

func (d *Daemon) emitOK() {
	fmt.Fprint(d.stdout, "OK\n")
}

func (d *Daemon) emitFailed() {
	fmt.Fprint(d.stdout, "FAILED\n")
}

func (d *Daemon) emitError(format string, args ...any) {
	fmt.Fprintf(d.stderr, "ERROR: "+format+"\n", args...)
}

func (d *Daemon) emitWarning(format string, args ...any) {
	fmt.Fprintf(d.stderr, "WARNING: "+format+"\n", args...)
}

// readPID returns the pid recorded in the pid file, or 0 when the file is
// absent, broken, stale, or not configured. Broken pid files are removed
// with a warning so a subsequent start can proceed.
func (d *Daemon) readPID() int {
	pid, err := d.pid.Read()
	if err != nil {
		if errors.Is(err, pidfile.ErrBroken) {
			d.emitWarning("Empty or broken pidfile %s; removing", d.pid.Path())
		} else {
			d.emitWarning("%v", err)
		}
		return 0
	}
	return pid
}
